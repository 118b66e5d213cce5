// Package requestid tags each HTTP request with a correlation id, stores it
// in the request context and echoes it in the X-Request-ID response header.
//
// Client supplied ids are reused only when they are at most 128 characters of
// [a-zA-Z0-9_-]; anything else is replaced by a fresh UUIDv7.
//
//	log := logger.New(logger.WithContextExtractors(requestid.LoggerExtractor()))
//	r := chi.NewRouter()
//	r.Use(requestid.Middleware)
package requestid
