// Package registry resolves request paths to pipeline modules.
//
// Routes are registered explicitly at startup, either directly or through
// named module sets that the configuration's module list selects.
package registry
