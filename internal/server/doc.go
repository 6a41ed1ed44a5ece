// Package server hosts the Fiber HTTP service that fronts the application:
// request-ID middleware, panic recovery, and the catch-all route that turns
// each incoming request into an upstream *http.Request, hands it to the
// lifecycle controller, and writes back either the intercepted response or a
// pass-through fetch. Diagnostics live under /-/ and are registered by the
// routes subpackage.
package server
