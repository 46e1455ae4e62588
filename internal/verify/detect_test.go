package verify

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDetectTestCommand(t *testing.T) {
	t.Run("empty dir", func(t *testing.T) {
		if _, ok := DetectTestCommand(t.TempDir()); ok {
			t.Fatal("expected no test command in empty dir")
		}
	})

	t.Run("npm by default", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "package.json", `{"scripts":{"test":"vitest run"}}`)
		cmd, ok := DetectTestCommand(dir)
		if !ok || strings.Join(cmd, " ") != "npm test" {
			t.Fatalf("got %v %v", cmd, ok)
		}
	})

	t.Run("pnpm lockfile wins", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "package.json", `{"scripts":{"test":"vitest run"}}`)
		writeFile(t, dir, "pnpm-lock.yaml", "")
		cmd, ok := DetectTestCommand(dir)
		if !ok || cmd[0] != "pnpm" {
			t.Fatalf("got %v %v", cmd, ok)
		}
	})

	t.Run("yarn lockfile", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "package.json", `{"scripts":{"test":"jest"}}`)
		writeFile(t, dir, "yarn.lock", "")
		cmd, ok := DetectTestCommand(dir)
		if !ok || cmd[0] != "yarn" {
			t.Fatalf("got %v %v", cmd, ok)
		}
	})

	t.Run("npm-init stub script ignored", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "package.json", `{"scripts":{"test":"echo \"Error: no test specified\" && exit 1"}}`)
		if _, ok := DetectTestCommand(dir); ok {
			t.Fatal("stub test script must not count as a runner")
		}
	})

	t.Run("stub package.json falls through to go", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "package.json", `{"scripts":{}}`)
		writeFile(t, dir, "go.mod", "module example.com/x\n")
		cmd, ok := DetectTestCommand(dir)
		if !ok || strings.Join(cmd, " ") != "go test ./..." {
			t.Fatalf("got %v %v", cmd, ok)
		}
	})

	t.Run("pytest", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "pyproject.toml", "")
		cmd, ok := DetectTestCommand(dir)
		if !ok || cmd[0] != "pytest" {
			t.Fatalf("got %v %v", cmd, ok)
		}
	})

	t.Run("cargo", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "Cargo.toml", "")
		cmd, ok := DetectTestCommand(dir)
		if !ok || cmd[0] != "cargo" {
			t.Fatalf("got %v %v", cmd, ok)
		}
	})
}
