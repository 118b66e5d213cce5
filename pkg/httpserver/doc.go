// Package httpserver runs the billing daemon's HTTP listener with graceful
// shutdown and exposes liveness and readiness handlers.
//
//	srv := httpserver.New(cfg, router, httpserver.WithLogger(log))
//	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
//	defer stop()
//	if err := srv.Run(ctx); err != nil {
//		return err
//	}
//
// Run binds the listener before returning control, so ErrStart covers address
// errors. Cancelling ctx drains requests for Config.ShutdownTimeout.
package httpserver
