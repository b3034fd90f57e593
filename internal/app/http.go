package app

import (
	"net/http"

	"chatrelay/pkg/api"
	"chatrelay/pkg/auth"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/telemetry"
)

// startHTTP builds the handler stack, starts the server in a goroutine
// and returns a channel carrying any fatal server error.
func (a *App) startHTTP() <-chan error {
	root := api.Router(api.Deps{Registry: a.registry, Relay: a.relay})
	root.Handle("/ws", a.gateway)
	root.Handle("/metrics", telemetry.Handler())

	sec := a.cfg.Security.RateLimit
	handler := auth.Middleware(sec.RPS, sec.Burst)(root)
	handler = telemetry.Middleware(handler)

	a.srv = &http.Server{Addr: a.cfg.Addr(), Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		cert := a.cfg.Server.TLS.CertFile
		key := a.cfg.Server.TLS.KeyFile
		logger.Info("http_listening", "addr", a.srv.Addr, "tls", cert != "" && key != "")
		if cert != "" && key != "" {
			errCh <- a.srv.ListenAndServeTLS(cert, key)
		} else {
			errCh <- a.srv.ListenAndServe()
		}
	}()
	return errCh
}
