package daemon

import (
	"log/slog"
	"net/http"

	_ "net/http/pprof"
)

func startPprof(addr string) {
	if addr == "" {
		return
	}
	go func() {
		// DefaultServeMux has the pprof handlers via the blank import.
		if err := http.ListenAndServe(addr, nil); err != nil {
			slog.Info("pprof server stopped", "addr", addr, "err", err)
		}
	}()
}
