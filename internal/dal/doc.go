// Package dal loads the data access layers named in the configuration.
//
// Factories are registered explicitly at startup. Load builds the configured
// ones once; the resulting Set never changes and is handed to every request.
package dal
