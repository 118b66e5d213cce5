// Package environment carries the deployment environment (development,
// staging, production) through configuration, request contexts and logs.
//
// Usage:
//
//	env := environment.Parse(cfg.AppEnv)
//	r.Use(environment.Middleware(env))
//
//	if environment.IsProduction(ctx) {
//	    // live-mode only behavior
//	}
package environment
