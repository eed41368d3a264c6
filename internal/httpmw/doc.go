// Package httpmw provides HTTP middleware for the public contact API.
//
// Middleware is composed in httpserver.NewHandler in this order: recover,
// security headers, request ID, client IP extraction, flood limiting, CORS,
// OTEL tracing, metrics, structured logging, body limit and the chi router.
//
// Request bodies, query strings and user-agents are kept out of logs since
// contact submissions carry personal data.
package httpmw
