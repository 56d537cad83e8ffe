// Package config provides the typed server configuration.
//
// Sources, lowest precedence first:
//   - struct defaults (envconfig default tags)
//   - environment variables (12-factor)
//   - CONFIG_FILE: YAML, TOML or JSON using the framework's option names
//     (port, secure.key, instantShutdownDelay, middlewareTimeout,
//     disableNagleAlgoritm, retryAter, debug, pingponglog, logPath,
//     useDals, skipDbWarning, ...)
//
// Validate runs once at startup; every failure wraps ErrConfig and is fatal.
package config
