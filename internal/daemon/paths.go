package daemon

import "path/filepath"

func runDir(home string) string {
	return filepath.Join(home, "run")
}

func pidPath(home string) string {
	return filepath.Join(runDir(home), "ralphd.pid")
}

func lockPath(home string) string {
	return filepath.Join(runDir(home), "ralphd.lock")
}

func addrPath(home string) string {
	return filepath.Join(runDir(home), "ralphd.addr")
}

// DaemonLogPath is where the background daemon's stderr goes.
func DaemonLogPath(home string) string {
	return filepath.Join(runDir(home), "daemon.log")
}
