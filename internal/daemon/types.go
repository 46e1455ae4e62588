package daemon

// StartOptions configures the daemon.
type StartOptions struct {
	Home      string
	Port      int
	Dev       bool   // permissive CORS for a dev UI
	PprofAddr string // when set, serve net/http/pprof on this address
}

// StatusInfo is the result of Status.
type StatusInfo struct {
	Running bool
	PID     int
	Addr    string
}
