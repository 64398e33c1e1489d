// Package api implements the HTTP transport layer: request/response DTOs,
// handlers, and the translation of service errors into HTTP status codes.
// Handlers stay thin; all queue semantics live in the queue package.
package api
