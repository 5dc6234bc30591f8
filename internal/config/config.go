// Package config loads service configuration from YAML with environment
// variable overrides for anything secret.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"env"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
		// BaseURL is the public base URL of this service, used for OAuth
		// redirect URIs and reconnect links in notification mail.
		BaseURL string `yaml:"base_url"`
	} `yaml:"server"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Storage struct {
		// postgres | memory
		Driver   string `yaml:"driver"`
		DSN      string `yaml:"dsn"`
		Postgres struct {
			MaxConns        int           `yaml:"max_conns"`
			MinConns        int           `yaml:"min_conns"`
			ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Redis struct {
		Addr     string `yaml:"addr"`
		DB       int    `yaml:"db"`
		Password string `yaml:"password"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`

	Security struct {
		// TokenMasterSecret keys the token cipher. Any non-empty string;
		// the actual AES key is derived from it.
		TokenMasterSecret string `yaml:"token_master_secret"`
		// StateSecret signs the OAuth state parameter.
		StateSecret string `yaml:"state_secret"`
		// AdminAPIKey gates the integration endpoints.
		AdminAPIKey string `yaml:"admin_api_key"`

		StateMaxAge    time.Duration `yaml:"state_max_age"`
		StateSingleUse bool          `yaml:"state_single_use"`
		SafetyBuffer   time.Duration `yaml:"safety_buffer"`
	} `yaml:"security"`

	Providers struct {
		Google struct {
			Enabled      bool     `yaml:"enabled"`
			ClientID     string   `yaml:"client_id"`
			ClientSecret string   `yaml:"client_secret"`
			Scopes       []string `yaml:"scopes"`
		} `yaml:"google"`
		Microsoft struct {
			Enabled      bool     `yaml:"enabled"`
			ClientID     string   `yaml:"client_id"`
			ClientSecret string   `yaml:"client_secret"`
			Tenant       string   `yaml:"tenant"`
			Scopes       []string `yaml:"scopes"`
		} `yaml:"microsoft"`
	} `yaml:"providers"`

	Rate struct {
		Enabled     bool          `yaml:"enabled"`
		Window      time.Duration `yaml:"window"`
		MaxRequests int           `yaml:"max_requests"`
	} `yaml:"rate"`

	SMTP struct {
		Host               string `yaml:"host"`
		Port               int    `yaml:"port"`
		Username           string `yaml:"username"`
		Password           string `yaml:"password"`
		FromEmail          string `yaml:"from_email"`
		TLSMode            string `yaml:"tls_mode"`
		InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	} `yaml:"smtp"`

	Notify struct {
		Enabled bool   `yaml:"enabled"`
		Subject string `yaml:"subject"`
	} `yaml:"notify"`
}

// Load reads a YAML config, applies defaults and env overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	c.applyDefaults()
	c.applyEnv()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// FromEnv builds a config from environment variables only.
func FromEnv() (*Config, error) {
	return Load("")
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = "http://localhost:8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.Postgres.MaxConns == 0 {
		c.Storage.Postgres.MaxConns = 10
	}
	if c.Storage.Postgres.ConnMaxLifetime == 0 {
		c.Storage.Postgres.ConnMaxLifetime = 30 * time.Minute
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "mailvault"
	}
	if c.Security.StateMaxAge == 0 {
		c.Security.StateMaxAge = 10 * time.Minute
	}
	if c.Security.SafetyBuffer == 0 {
		c.Security.SafetyBuffer = 2 * time.Minute
	}
	if c.Rate.Window == 0 {
		c.Rate.Window = time.Minute
	}
	if c.Rate.MaxRequests == 0 {
		c.Rate.MaxRequests = 60
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
	}
	if c.SMTP.TLSMode == "" {
		c.SMTP.TLSMode = "auto"
	}
}

// applyEnv overrides config with environment variables. Secrets should
// come from env, not YAML, so these always win.
func (c *Config) applyEnv() {
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = v
	}
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("BASE_URL"); ok {
		c.Server.BaseURL = v
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = v
	}

	if v, ok := getEnvStr("STORAGE_DRIVER"); ok {
		c.Storage.Driver = v
	}
	if v, ok := getEnvStr("DATABASE_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Redis.Addr = v
	}
	if v, ok := getEnvStr("REDIS_PASSWORD"); ok {
		c.Redis.Password = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Redis.DB = v
	}

	if v, ok := getEnvStr("TOKEN_MASTER_SECRET"); ok {
		c.Security.TokenMasterSecret = v
	}
	if v, ok := getEnvStr("STATE_SECRET"); ok {
		c.Security.StateSecret = v
	}
	if v, ok := getEnvStr("ADMIN_API_KEY"); ok {
		c.Security.AdminAPIKey = v
	}
	if v, ok := getEnvBool("STATE_SINGLE_USE"); ok {
		c.Security.StateSingleUse = v
	}
	if v, ok := getEnvDur("SAFETY_BUFFER"); ok {
		c.Security.SafetyBuffer = v
	}

	if v, ok := getEnvBool("GOOGLE_ENABLED"); ok {
		c.Providers.Google.Enabled = v
	}
	if v, ok := getEnvStr("GOOGLE_CLIENT_ID"); ok {
		c.Providers.Google.ClientID = v
	}
	if v, ok := getEnvStr("GOOGLE_CLIENT_SECRET"); ok {
		c.Providers.Google.ClientSecret = v
	}
	if v, ok := getEnvBool("MICROSOFT_ENABLED"); ok {
		c.Providers.Microsoft.Enabled = v
	}
	if v, ok := getEnvStr("MICROSOFT_CLIENT_ID"); ok {
		c.Providers.Microsoft.ClientID = v
	}
	if v, ok := getEnvStr("MICROSOFT_CLIENT_SECRET"); ok {
		c.Providers.Microsoft.ClientSecret = v
	}
	if v, ok := getEnvStr("MICROSOFT_TENANT"); ok {
		c.Providers.Microsoft.Tenant = v
	}

	if v, ok := getEnvBool("RATE_ENABLED"); ok {
		c.Rate.Enabled = v
	}

	if v, ok := getEnvStr("SMTP_HOST"); ok {
		c.SMTP.Host = v
	}
	if v, ok := getEnvInt("SMTP_PORT"); ok {
		c.SMTP.Port = v
	}
	if v, ok := getEnvStr("SMTP_USERNAME"); ok {
		c.SMTP.Username = v
	}
	if v, ok := getEnvStr("SMTP_PASSWORD"); ok {
		c.SMTP.Password = v
	}
	if v, ok := getEnvStr("SMTP_FROM"); ok {
		c.SMTP.FromEmail = v
	}
	if v, ok := getEnvBool("NOTIFY_ENABLED"); ok {
		c.Notify.Enabled = v
	}
}

// IsProd reports whether the service runs with production hardening.
func (c *Config) IsProd() bool {
	return c.App.Env == "prod"
}

// Validate rejects configurations the service cannot run safely with.
func (c *Config) Validate() error {
	if c.Security.TokenMasterSecret == "" {
		return fmt.Errorf("config: token_master_secret (TOKEN_MASTER_SECRET) is required")
	}
	if c.Security.StateSecret == "" {
		return fmt.Errorf("config: state_secret (STATE_SECRET) is required")
	}

	switch c.Storage.Driver {
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("config: storage.dsn (DATABASE_DSN) required for the postgres driver")
		}
	case "memory":
		if c.IsProd() {
			return fmt.Errorf("config: the memory storage driver is not allowed in prod")
		}
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}

	if c.IsProd() && c.Security.AdminAPIKey == "" {
		return fmt.Errorf("config: admin_api_key (ADMIN_API_KEY) is required in prod")
	}

	if !c.Providers.Google.Enabled && !c.Providers.Microsoft.Enabled {
		return fmt.Errorf("config: at least one provider must be enabled")
	}
	if c.Providers.Google.Enabled {
		if c.Providers.Google.ClientID == "" || c.Providers.Google.ClientSecret == "" {
			return fmt.Errorf("config: google enabled without client_id/client_secret")
		}
	}
	if c.Providers.Microsoft.Enabled {
		if c.Providers.Microsoft.ClientID == "" || c.Providers.Microsoft.ClientSecret == "" {
			return fmt.Errorf("config: microsoft enabled without client_id/client_secret")
		}
	}

	if c.Notify.Enabled && c.SMTP.Host == "" {
		return fmt.Errorf("config: notify enabled without smtp.host")
	}

	return nil
}

// ---- env helpers ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}

func getEnvDur(key string) (time.Duration, bool) {
	if s, ok := getEnvStr(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, true
		}
	}
	return 0, false
}
