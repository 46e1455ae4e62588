package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mattmoran56/ralph-orchestrator-ui/pkg/models"
)

func TestResolveHome(t *testing.T) {
	if got, err := ResolveHome("/tmp/custom"); err != nil || got != "/tmp/custom" {
		t.Fatalf("ResolveHome override: got %q, %v", got, err)
	}

	t.Setenv("RALPHD_HOME", "/tmp/envhome")
	if got, err := ResolveHome(""); err != nil || got != "/tmp/envhome" {
		t.Fatalf("ResolveHome env: got %q, %v", got, err)
	}

	t.Setenv("RALPHD_HOME", "")
	got, err := ResolveHome("")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(got) != ".ralphd" {
		t.Errorf("ResolveHome default: got %q", got)
	}
}

func TestLoadFileConfig_missingIsZero(t *testing.T) {
	fc, err := LoadFileConfig(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if fc.Port != 0 || fc.Verification.Strict {
		t.Errorf("missing config.yaml should be zero value, got %+v", fc)
	}
}

func TestLoadFileConfig(t *testing.T) {
	home := t.TempDir()
	yaml := "port: 9000\nverification:\n  strict: true\ndefaults:\n  maxTaskAttempts: 5\n  agentExecutable: my-agent\n"
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	fc, err := LoadFileConfig(home)
	if err != nil {
		t.Fatal(err)
	}
	if fc.Port != 9000 {
		t.Errorf("port = %d", fc.Port)
	}
	if !fc.Verification.Strict {
		t.Error("verification.strict not read")
	}
	if fc.Defaults.MaxTaskAttempts != 5 || fc.Defaults.AgentExecutable != "my-agent" {
		t.Errorf("defaults = %+v", fc.Defaults)
	}
}

func TestDefaultSettings_appliesOverrides(t *testing.T) {
	home := "/tmp/home"
	var fc FileConfig
	fc.Defaults.MaxParallelProjects = 7

	s := DefaultSettings(home, fc)
	if s.MaxParallelProjects != 7 {
		t.Errorf("maxParallelProjects = %d", s.MaxParallelProjects)
	}
	if s.MaxTaskAttempts != models.DefaultMaxTaskAttempts {
		t.Errorf("maxTaskAttempts = %d", s.MaxTaskAttempts)
	}
	if s.WorkspacesPath != DefaultWorkspacesPath(home) {
		t.Errorf("workspacesPath = %q", s.WorkspacesPath)
	}
	if s.AgentExecutable != models.DefaultAgentExecutable {
		t.Errorf("agentExecutable = %q", s.AgentExecutable)
	}
}

func TestNormalize_fillsZeroFields(t *testing.T) {
	s := Normalize(models.Settings{MaxTaskAttempts: 2}, "/tmp/home")
	if s.MaxTaskAttempts != 2 {
		t.Error("explicit value must survive")
	}
	if s.MaxParallelProjects != models.DefaultMaxParallelProjects {
		t.Errorf("maxParallelProjects = %d", s.MaxParallelProjects)
	}
	if s.WorkspacesPath == "" || s.AgentExecutable == "" {
		t.Errorf("zero fields not filled: %+v", s)
	}
}

func TestHomeContext(t *testing.T) {
	ctx := WithHome(context.Background(), "/tmp/h")
	if got := MustHomeFrom(ctx); got != "/tmp/h" {
		t.Errorf("MustHomeFrom = %q", got)
	}
	if _, ok := HomeFrom(context.Background()); ok {
		t.Error("HomeFrom without value should report ok=false")
	}
}
