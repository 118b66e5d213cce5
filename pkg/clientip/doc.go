// Package clientip resolves the caller's address behind trusted proxies and
// optionally restricts an endpoint to known source networks, such as the
// processor's published webhook ranges.
//
//	res := clientip.NewResolver("CF-Connecting-IP", "X-Forwarded-For")
//	r.Use(res.Middleware)
//	r.With(clientip.AllowOnly(prefixes)).Post("/webhooks/stripe", h)
//
// Only list headers your edge proxy overwrites; any other header is client
// controlled.
package clientip
