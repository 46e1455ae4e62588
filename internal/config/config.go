// Package config resolves the ralphd home directory, loads the optional
// config.yaml, and serves runtime settings backed by the state catalog.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/mattmoran56/ralph-orchestrator-ui/pkg/models"
)

// FileConfig is the optional <home>/config.yaml. Everything here has a
// working default; the file only exists when the user overrides something.
type FileConfig struct {
	Port int `yaml:"port,omitempty"`
	Verification struct {
		// Strict makes the self-review fail when the agent emits neither
		// VERIFICATION_PASSED nor VERIFICATION_FAILED. Default is lenient
		// (unknown output passes unless a clear failure is present).
		Strict bool `yaml:"strict,omitempty"`
	} `yaml:"verification,omitempty"`
	Defaults struct {
		MaxParallelProjects int    `yaml:"maxParallelProjects,omitempty"`
		MaxTaskAttempts     int    `yaml:"maxTaskAttempts,omitempty"`
		MaxIterations       int    `yaml:"maxIterations,omitempty"`
		AgentExecutable     string `yaml:"agentExecutable,omitempty"`
	} `yaml:"defaults,omitempty"`
}

// LoadFileConfig reads <home>/config.yaml. A missing file returns zero-value
// config with no error.
func LoadFileConfig(home string) (FileConfig, error) {
	var fc FileConfig
	data, err := os.ReadFile(filepath.Join(home, "config.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return fc, nil
		}
		return fc, err
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultSettings returns the settings used when state.json has none,
// applying config.yaml overrides on top of the built-in defaults.
func DefaultSettings(home string, fc FileConfig) models.Settings {
	s := models.Settings{
		MaxParallelProjects: models.DefaultMaxParallelProjects,
		MaxTaskAttempts:     models.DefaultMaxTaskAttempts,
		WorkspacesPath:      DefaultWorkspacesPath(home),
		AgentExecutable:     models.DefaultAgentExecutable,
	}
	if fc.Defaults.MaxParallelProjects > 0 {
		s.MaxParallelProjects = fc.Defaults.MaxParallelProjects
	}
	if fc.Defaults.MaxTaskAttempts > 0 {
		s.MaxTaskAttempts = fc.Defaults.MaxTaskAttempts
	}
	if fc.Defaults.AgentExecutable != "" {
		s.AgentExecutable = fc.Defaults.AgentExecutable
	}
	return s
}

// Normalize fills unset settings fields with defaults. Used after loading a
// partially-written state.json.
func Normalize(s models.Settings, home string) models.Settings {
	if s.MaxParallelProjects <= 0 {
		s.MaxParallelProjects = models.DefaultMaxParallelProjects
	}
	if s.MaxTaskAttempts <= 0 {
		s.MaxTaskAttempts = models.DefaultMaxTaskAttempts
	}
	if s.WorkspacesPath == "" {
		s.WorkspacesPath = DefaultWorkspacesPath(home)
	}
	if s.AgentExecutable == "" {
		s.AgentExecutable = models.DefaultAgentExecutable
	}
	return s
}
