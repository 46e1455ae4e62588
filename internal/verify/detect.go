package verify

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// DetectTestCommand inspects a working directory and returns the test
// command for its ecosystem, or ok=false when no runner is present.
// Detection order: package.json (non-stub test script, package manager by
// lockfile), pytest config, go.mod, Cargo.toml.
func DetectTestCommand(dir string) (cmd []string, ok bool) {
	if hasRealNodeTestScript(dir) {
		switch {
		case exists(filepath.Join(dir, "pnpm-lock.yaml")):
			return []string{"pnpm", "test"}, true
		case exists(filepath.Join(dir, "yarn.lock")):
			return []string{"yarn", "test"}, true
		default:
			return []string{"npm", "test"}, true
		}
	}
	if exists(filepath.Join(dir, "pytest.ini")) || exists(filepath.Join(dir, "pyproject.toml")) {
		return []string{"pytest"}, true
	}
	if exists(filepath.Join(dir, "go.mod")) {
		return []string{"go", "test", "./..."}, true
	}
	if exists(filepath.Join(dir, "Cargo.toml")) {
		return []string{"cargo", "test"}, true
	}
	return nil, false
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// hasRealNodeTestScript reports whether package.json declares a test script
// other than the npm-init stub.
func hasRealNodeTestScript(dir string) bool {
	raw, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return false
	}
	var pkg struct {
		Scripts map[string]string `json:"scripts"`
	}
	if err := json.Unmarshal(raw, &pkg); err != nil {
		return false
	}
	script, ok := pkg.Scripts["test"]
	if !ok || strings.TrimSpace(script) == "" {
		return false
	}
	return !strings.Contains(script, "no test specified")
}
