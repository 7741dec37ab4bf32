// Package httpmw holds the middleware of the public editor server.
//
// httpserver.NewHandler decides the order. Outermost to innermost the chain is
// security headers, panic recovery, request ID, client IP, rate limiting,
// tracing, content headers, metrics and the request logger, then the chi
// router with route annotation, access logging and the body limit.
//
// Access logs never carry credentials. The editor accepts a Github token in
// the query of /api/preview and the OAuth callback carries a code, so query
// values with credential names are replaced before logging.
package httpmw
