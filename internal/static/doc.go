// Package static serves files from a configured root for request paths that
// no module claims.
package static
