// Package http adapts gin to the module pipeline. The Dispatcher is mounted
// as gin's NoRoute handler, so the server's own endpoints (/metrics,
// /health) stay on gin routes and every other path is resolved against the
// module registry, then the static root, then a localized 404 page.
package http
