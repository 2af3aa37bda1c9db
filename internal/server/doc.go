// Package server hosts the Fiber HTTP service and its request middleware
// chain. It builds the app, stamps every response with X-Request-ID, and
// renders errors as {"error": code} JSON. Handlers live in the routes
// subpackage and receive their dependencies explicitly, so keep exports narrow.
package server
