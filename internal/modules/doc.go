// Package modules provides the built-in module sets. The system set exposes
// health, pool, route and metric introspection under /_system.
package modules
