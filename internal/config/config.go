// Package config loads the bridge configuration from defaults, an optional
// YAML file and the environment, and holds the live snapshot.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is one immutable configuration snapshot.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`

	// OpenAI holds values shared by both tiers when a tier leaves them unset.
	OpenAI SharedConfig `koanf:"openai"`

	Primary   TierConfig `koanf:"primary"`
	Secondary TierConfig `koanf:"secondary"`

	Limits   LimitsConfig   `koanf:"limits"`
	Upstream UpstreamConfig `koanf:"upstream"`
	Routing  RoutingConfig  `koanf:"routing"`
}

type ServerConfig struct {
	Host         string `koanf:"host"`
	Port         int    `koanf:"port" validate:"gte=1,lte=65535"`
	MaxBodyBytes int64  `koanf:"max_body_bytes" validate:"gte=1"`
}

// Addr returns host:port for net.Listen.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format" validate:"oneof=json text"`
}

type TelemetryConfig struct {
	ServiceName string `koanf:"service_name"`
	Exporter    string `koanf:"exporter" validate:"oneof=none stdout"`
}

type SharedConfig struct {
	APIKey     string `koanf:"api_key"`
	BaseURL    string `koanf:"base_url"`
	APIVersion string `koanf:"azure_api_version"`
}

// TierConfig describes the upstream serving one routing tier.
type TierConfig struct {
	Provider   string `koanf:"provider"`
	APIKey     string `koanf:"api_key" validate:"required"`
	BaseURL    string `koanf:"base_url" validate:"required,url"`
	Model      string `koanf:"model" validate:"required"`
	APIVersion string `koanf:"azure_api_version"`
}

type LimitsConfig struct {
	MinTokens int `koanf:"min_tokens" validate:"gte=1"`
	MaxTokens int `koanf:"max_tokens" validate:"gtefield=MinTokens"`
}

type UpstreamConfig struct {
	RequestTimeout time.Duration `koanf:"request_timeout" validate:"gt=0"`
	MaxRetries     int           `koanf:"max_retries" validate:"gte=0"`
	PingInterval   time.Duration `koanf:"ping_interval" validate:"gte=0"`
}

type RoutingConfig struct {
	NativePrefixes  []string `koanf:"native_prefixes"`
	SecondaryMarker string   `koanf:"secondary_marker" validate:"required"`
}

// DefaultConfigFile is read when present.
const DefaultConfigFile = "config.yaml"

var defaults = map[string]any{
	"server.host":              "0.0.0.0",
	"server.port":              8082,
	"server.max_body_bytes":    32 << 20,
	"log.level":                "info",
	"log.format":               "json",
	"telemetry.service_name":   "messages-bridge",
	"telemetry.exporter":       "none",
	"openai.base_url":          "https://api.openai.com/v1",
	"primary.provider":         "openai",
	"primary.model":            "gpt-4o",
	"secondary.provider":       "openai",
	"secondary.model":          "gpt-4o-mini",
	"limits.max_tokens":        8196,
	"limits.min_tokens":        100,
	"upstream.request_timeout": "90s",
	"upstream.max_retries":     2,
	"upstream.ping_interval":   "10s",
	"routing.native_prefixes":  []string{"gpt-", "o1-"},
	"routing.secondary_marker": "haiku",
}

// legacyEnv are fallbacks, loaded before the specific variables so those win.
var legacyEnv = map[string]string{
	"OPENAI_API_KEY":    "openai.api_key",
	"OPENAI_BASE_URL":   "openai.base_url",
	"AZURE_API_VERSION": "openai.azure_api_version",
	"BIG_MODEL":         "primary.model",
	"SMALL_MODEL":       "secondary.model",
}

var canonicalEnv = map[string]string{
	"BIG_MODEL_PROVIDER":            "primary.provider",
	"BIG_MODEL_API_KEY":             "primary.api_key",
	"BIG_MODEL_BASE_URL":            "primary.base_url",
	"BIG_MODEL_NAME":                "primary.model",
	"BIG_MODEL_AZURE_API_VERSION":   "primary.azure_api_version",
	"SMALL_MODEL_PROVIDER":          "secondary.provider",
	"SMALL_MODEL_API_KEY":           "secondary.api_key",
	"SMALL_MODEL_BASE_URL":          "secondary.base_url",
	"SMALL_MODEL_NAME":              "secondary.model",
	"SMALL_MODEL_AZURE_API_VERSION": "secondary.azure_api_version",
	"HOST":                          "server.host",
	"PORT":                          "server.port",
	"MAX_BODY_BYTES":                "server.max_body_bytes",
	"LOG_LEVEL":                     "log.level",
	"LOG_FORMAT":                    "log.format",
	"TRACING_EXPORTER":              "telemetry.exporter",
	"MAX_TOKENS_LIMIT":              "limits.max_tokens",
	"MIN_TOKENS_LIMIT":              "limits.min_tokens",
	"REQUEST_TIMEOUT":               "upstream.request_timeout",
	"MAX_RETRIES":                   "upstream.max_retries",
	"PING_INTERVAL":                 "upstream.ping_interval",
}

var (
	envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)
	bareSeconds   = regexp.MustCompile(`^\d+$`)
	validate      = validator.New(validator.WithRequiredStructEnabled())
)

// Load reads the configuration. path may be empty, in which case
// DefaultConfigFile is used if it exists.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// File not found is OK unless it was asked for
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := k.Load(envProvider(legacyEnv), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	if err := k.Load(envProvider(canonicalEnv), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.applyFallbacks()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// envProvider maps the exact variable names in table to config keys. Other
// variables are ignored. Durations given as bare numbers are seconds.
func envProvider(table map[string]string) *env.Env {
	return env.ProviderWithValue("", ".", func(name, value string) (string, any) {
		key, ok := table[name]
		if !ok || value == "" {
			return "", nil
		}
		if strings.HasSuffix(key, "_timeout") || strings.HasSuffix(key, "_interval") {
			if bareSeconds.MatchString(value) {
				value += "s"
			}
		}
		return key, value
	})
}

func (c *Config) applyFallbacks() {
	for _, tier := range []*TierConfig{&c.Primary, &c.Secondary} {
		tier.APIKey = substituteEnvVars(tier.APIKey)
		if tier.APIKey == "" {
			tier.APIKey = substituteEnvVars(c.OpenAI.APIKey)
		}
		if tier.BaseURL == "" {
			tier.BaseURL = c.OpenAI.BaseURL
		}
		if tier.APIVersion == "" {
			tier.APIVersion = c.OpenAI.APIVersion
		}
	}
}

// Validate checks the snapshot invariants.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
