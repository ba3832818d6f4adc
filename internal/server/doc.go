// Package server provides the HTTP surface of cloudspend.
//
// Available endpoints (GET only):
//   - /health                 : Liveness probe (always returns 200)
//   - /ready                  : Readiness probe (200 once the store answers a ping)
//   - /metrics                : Prometheus metrics endpoint
//   - /providers              : Registered providers and the public account-data fields
//   - /accounts               : Every account with secret connection fields removed
//   - /accounts/{id}          : One redacted account
//   - /accounts/{id}/billing  : Stored billing periods of an account
//   - /accounts/{id}/metrics  : Stored instance-count samples of an account
//
// The server is configured with sensible timeout defaults:
//   - Read timeout: 15 seconds
//   - Write timeout: 15 seconds
//   - Idle timeout: 60 seconds
//
// Example usage:
//
//	srv := server.NewServer(cfg, server.Deps{Store: st, Accounts: accounts, Factory: f}, log)
//
//	serverErrors := make(chan error, 1)
//	go func() {
//		serverErrors <- srv.Start()
//	}()
//
//	<-ctx.Done()
//	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//	_ = srv.Shutdown(shutdownCtx)
package server
