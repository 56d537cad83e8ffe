package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// fileConfig mirrors the option names accepted in config files and in the
// supervisor's start message. Pointers distinguish "unset" from zero.
type fileConfig struct {
	Port                 *int          `yaml:"port" toml:"port" json:"port"`
	Host                 *string       `yaml:"host" toml:"host" json:"host"`
	Secure               *secureFile   `yaml:"secure" toml:"secure" json:"secure"`
	InstantShutdownDelay *int          `yaml:"instantShutdownDelay" toml:"instantShutdownDelay" json:"instantShutdownDelay"`
	MiddlewareTimeout    *int          `yaml:"middlewareTimeout" toml:"middlewareTimeout" json:"middlewareTimeout"`
	DisableNagleAlgoritm *bool         `yaml:"disableNagleAlgoritm" toml:"disableNagleAlgoritm" json:"disableNagleAlgoritm"`
	RetryAter            *int          `yaml:"retryAter" toml:"retryAter" json:"retryAter"`
	Debug                *bool         `yaml:"debug" toml:"debug" json:"debug"`
	PingPongLog          *bool         `yaml:"pingponglog" toml:"pingponglog" json:"pingponglog"`
	LogPath              *string       `yaml:"logPath" toml:"logPath" json:"logPath"`
	UseDals              any           `yaml:"useDals" toml:"useDals" json:"useDals"`
	SkipDbWarning        *bool         `yaml:"skipDbWarning" toml:"skipDbWarning" json:"skipDbWarning"`
	Modules              []string      `yaml:"modules" toml:"modules" json:"modules"`
	MaxConnections       *int          `yaml:"maxConnections" toml:"maxConnections" json:"maxConnections"`
	MaxBodyBytes         *int64        `yaml:"maxBodyBytes" toml:"maxBodyBytes" json:"maxBodyBytes"`
	PoolTTL              *string       `yaml:"poolTTL" toml:"poolTTL" json:"poolTTL"`
	StaticRoot           *string       `yaml:"staticRoot" toml:"staticRoot" json:"staticRoot"`
	Liveness             *livenessFile `yaml:"liveness" toml:"liveness" json:"liveness"`
	I18n                 *i18nFile     `yaml:"i18n" toml:"i18n" json:"i18n"`
	CORS                 *corsFile     `yaml:"cors" toml:"cors" json:"cors"`
}

type corsFile struct {
	Origins     []string `yaml:"origins" toml:"origins" json:"origins"`
	Credentials *bool    `yaml:"credentials" toml:"credentials" json:"credentials"`
}

type i18nFile struct {
	Default *string `yaml:"default" toml:"default" json:"default"`
	File    *string `yaml:"file" toml:"file" json:"file"`
}

type secureFile struct {
	Key  string `yaml:"key" toml:"key" json:"key"`
	Cert string `yaml:"cert" toml:"cert" json:"cert"`
}

type livenessFile struct {
	Transport *string `yaml:"transport" toml:"transport" json:"transport"`
	URL       *string `yaml:"url" toml:"url" json:"url"`
	FD        *int    `yaml:"fd" toml:"fd" json:"fd"`
}

func lookupConfigFile() string {
	return os.Getenv("CONFIG_FILE")
}

// LoadFile overlays a YAML or TOML file onto the configuration.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrConfig, path, err)
	}

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	case ".toml":
		err = toml.Unmarshal(data, &fc)
	case ".json":
		err = sonic.Unmarshal(data, &fc)
	default:
		return fmt.Errorf("%w: unsupported config file type %q", ErrConfig, filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrConfig, path, err)
	}

	return fc.apply(c)
}

// Merge overlays a JSON config object, as carried by the supervisor's start
// message, and re-validates.
func (c *Config) Merge(raw []byte) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var fc fileConfig
	if err := sonic.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("%w: parse start config: %v", ErrConfig, err)
	}
	if err := fc.apply(c); err != nil {
		return err
	}
	return c.Validate()
}

func (fc *fileConfig) apply(c *Config) error {
	if fc.Port != nil {
		c.Server.Port = *fc.Port
	}
	if fc.Host != nil {
		c.Server.Host = *fc.Host
	}
	if fc.Secure != nil {
		c.Secure.Key = fc.Secure.Key
		c.Secure.Cert = fc.Secure.Cert
	}
	if fc.InstantShutdownDelay != nil {
		c.Shutdown.InstantShutdownDelay = *fc.InstantShutdownDelay
	}
	if fc.MiddlewareTimeout != nil {
		c.Pipeline.MiddlewareTimeout = *fc.MiddlewareTimeout
	}
	if fc.DisableNagleAlgoritm != nil {
		c.Server.DisableNagleAlgorithm = *fc.DisableNagleAlgoritm
	}
	if fc.RetryAter != nil {
		c.Server.RetryAfter = *fc.RetryAter
	}
	if fc.Debug != nil && *fc.Debug {
		c.Logging.Development = true
		c.Logging.Level = "debug"
	}
	if fc.PingPongLog != nil {
		c.Logging.PingPong = *fc.PingPongLog
	}
	if fc.LogPath != nil {
		c.Logging.Path = *fc.LogPath
	}
	if fc.UseDals != nil {
		names, settings, err := parseUseDals(fc.UseDals)
		if err != nil {
			return err
		}
		c.Data.UseDals = names
		c.Data.Settings = settings
	}
	if fc.SkipDbWarning != nil {
		c.Data.SkipDbWarning = *fc.SkipDbWarning
	}
	if fc.Modules != nil {
		c.Server.Modules = slices.Concat(c.Server.Modules, fc.Modules)
	}
	if fc.MaxConnections != nil {
		c.Server.MaxConnections = *fc.MaxConnections
	}
	if fc.MaxBodyBytes != nil {
		c.Server.MaxBodyBytes = *fc.MaxBodyBytes
	}
	if fc.PoolTTL != nil {
		ttl, err := time.ParseDuration(*fc.PoolTTL)
		if err != nil {
			return fmt.Errorf("%w: poolTTL: %v", ErrConfig, err)
		}
		c.Pool.TTL = ttl
	}
	if fc.StaticRoot != nil {
		c.Static.Root = *fc.StaticRoot
	}
	if fc.Liveness != nil {
		if fc.Liveness.Transport != nil {
			c.Liveness.Transport = *fc.Liveness.Transport
		}
		if fc.Liveness.URL != nil {
			c.Liveness.URL = *fc.Liveness.URL
		}
		if fc.Liveness.FD != nil {
			c.Liveness.FD = *fc.Liveness.FD
		}
	}
	if fc.CORS != nil {
		if fc.CORS.Origins != nil {
			c.CORS.Origins = slices.Clone(fc.CORS.Origins)
		}
		if fc.CORS.Credentials != nil {
			c.CORS.Credentials = *fc.CORS.Credentials
		}
	}
	if fc.I18n != nil {
		if fc.I18n.Default != nil {
			c.I18n.DefaultLanguage = *fc.I18n.Default
		}
		if fc.I18n.File != nil {
			c.I18n.File = *fc.I18n.File
		}
	}
	return nil
}

// parseUseDals accepts either a list of names or an object mapping each
// name to its settings.
func parseUseDals(v any) ([]string, map[string]any, error) {
	switch dals := v.(type) {
	case []any:
		names := make([]string, 0, len(dals))
		for _, d := range dals {
			name, ok := d.(string)
			if !ok {
				return nil, nil, fmt.Errorf("%w: useDals entries must be strings", ErrConfig)
			}
			names = append(names, name)
		}
		return names, nil, nil
	case []string:
		return dals, nil, nil
	case map[string]any:
		names := make([]string, 0, len(dals))
		for name := range dals {
			names = append(names, name)
		}
		sort.Strings(names)
		return names, dals, nil
	default:
		return nil, nil, fmt.Errorf("%w: useDals must be a list or an object", ErrConfig)
	}
}
