// Package contacthttp serves the public contact API.
//
//	POST /api/contact  validate, rate-limit and email one submission
//	GET  /api/health   liveness summary for the frontend and uptime checks
//
// Responses are JSON with a success flag and a human readable message that
// the contact form shows verbatim.
package contacthttp
