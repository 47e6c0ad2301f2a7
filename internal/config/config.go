package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Environment   string `mapstructure:"environment"`
	DevModeBypass bool   `mapstructure:"dev_mode_bypass"`
	LogLevel      string `mapstructure:"log_level"`
	Server        struct {
		Addr            string        `mapstructure:"addr"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
		CORSOrigins     []string      `mapstructure:"cors_origins"`
	} `mapstructure:"server"`
	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
		URL      string `mapstructure:"url"`
		MaxConns int32  `mapstructure:"max_conns"`
	} `mapstructure:"db"`
	Supabase struct {
		URL            string `mapstructure:"url"`
		AnonKey        string `mapstructure:"anon_key"`
		ServiceRoleKey string `mapstructure:"service_role_key"`
	} `mapstructure:"supabase"`
	Auth struct {
		// VerifyMode is "jwks" (local signature check) or "remote" (ask the
		// Supabase auth API about every token).
		VerifyMode string `mapstructure:"verify_mode"`
		Issuer     string `mapstructure:"issuer"`
		JWKSURL    string `mapstructure:"jwks_url"`
		Audience   string `mapstructure:"audience"`
	} `mapstructure:"auth"`
	LLM struct {
		Provider string        `mapstructure:"provider"`
		Model    string        `mapstructure:"model"`
		Timeout  time.Duration `mapstructure:"timeout"`
	} `mapstructure:"llm"`
	Embeddings struct {
		Provider   string  `mapstructure:"provider"`
		Model      string  `mapstructure:"model"`
		Dimensions int     `mapstructure:"dimensions"`
		SidecarURL string  `mapstructure:"sidecar_url"`
		RateLimit  float64 `mapstructure:"rate_limit"`
		Burst      int     `mapstructure:"burst"`
	} `mapstructure:"embeddings"`
	OpenAI struct {
		APIKey  string `mapstructure:"api_key"`
		BaseURL string `mapstructure:"base_url"`
	} `mapstructure:"openai"`
	Gemini struct {
		APIKey string `mapstructure:"api_key"`
	} `mapstructure:"gemini"`
	Vector struct {
		ChunkSize      int     `mapstructure:"chunk_size"`
		ChunkOverlap   int     `mapstructure:"chunk_overlap"`
		MatchThreshold float64 `mapstructure:"match_threshold"`
		MatchCount     int     `mapstructure:"match_count"`
	} `mapstructure:"vector"`
	Worker struct {
		PollInterval time.Duration `mapstructure:"poll_interval"`
		BatchSize    int           `mapstructure:"batch_size"`
		Concurrency  int           `mapstructure:"concurrency"`
		Lease        time.Duration `mapstructure:"lease"`
		MaxAttempts  int           `mapstructure:"max_attempts"`
	} `mapstructure:"worker"`
	MCP struct {
		Enable      bool   `mapstructure:"enable"`
		ServiceUser string `mapstructure:"service_user"`
	} `mapstructure:"mcp"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "PROD")
	v.SetDefault("log_level", "info")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.name", "postgres")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("auth.verify_mode", "jwks")
	v.SetDefault("auth.audience", "authenticated")
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("embeddings.provider", "openai")
	v.SetDefault("embeddings.model", "text-embedding-3-small")
	v.SetDefault("embeddings.dimensions", 1536)
	v.SetDefault("embeddings.rate_limit", 10.0)
	v.SetDefault("embeddings.burst", 5)
	v.SetDefault("vector.chunk_size", 1000)
	v.SetDefault("vector.chunk_overlap", 200)
	v.SetDefault("vector.match_threshold", 0.3)
	v.SetDefault("vector.match_count", 8)
	v.SetDefault("worker.poll_interval", 5*time.Second)
	v.SetDefault("worker.batch_size", 10)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.lease", 5*time.Minute)
	v.SetDefault("worker.max_attempts", 3)
	v.SetDefault("mcp.enable", true)
}

// LoadConfig loads the configuration from config.yaml and the environment.
// If envFile is set, it is loaded into the process environment first.
// Environment variables use the MINDGRATE_ prefix, e.g. MINDGRATE_DB_HOST.
func LoadConfig(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("MINDGRATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	bindSecrets(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Supabase.URL = normalizeURL(config.Supabase.URL)
	config.deriveAuthEndpoints()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// bindSecrets lets the conventional provider variables work without the
// MINDGRATE_ prefix.
func bindSecrets(v *viper.Viper) {
	_ = v.BindEnv("openai.api_key", "MINDGRATE_OPENAI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("gemini.api_key", "MINDGRATE_GEMINI_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("supabase.url", "MINDGRATE_SUPABASE_URL", "SUPABASE_URL")
	_ = v.BindEnv("supabase.anon_key", "MINDGRATE_SUPABASE_ANON_KEY", "SUPABASE_ANON_KEY")
	_ = v.BindEnv("supabase.service_role_key", "MINDGRATE_SUPABASE_SERVICE_ROLE_KEY", "SUPABASE_SERVICE_ROLE_KEY")
	_ = v.BindEnv("db.url", "MINDGRATE_DB_URL", "DATABASE_URL")
}

// deriveAuthEndpoints fills the issuer and JWKS URL from the Supabase
// project URL when they are not configured explicitly.
func (c *Config) deriveAuthEndpoints() {
	if c.Supabase.URL == "" {
		return
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = c.Supabase.URL + "/auth/v1"
	}
	if c.Auth.JWKSURL == "" {
		c.Auth.JWKSURL = c.Supabase.URL + "/auth/v1/.well-known/jwks.json"
	}
}

// Validate checks the settings that have no sensible default.
func (c *Config) Validate() error {
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be at least 1")
	}
	if c.Vector.ChunkOverlap >= c.Vector.ChunkSize {
		return fmt.Errorf("vector.chunk_overlap (%d) must be smaller than vector.chunk_size (%d)", c.Vector.ChunkOverlap, c.Vector.ChunkSize)
	}
	switch c.Auth.VerifyMode {
	case "jwks", "remote":
	default:
		return fmt.Errorf("auth.verify_mode must be jwks or remote, got %q", c.Auth.VerifyMode)
	}
	return nil
}

// IsDev reports whether the service runs in the DEV environment.
func (c *Config) IsDev() bool {
	return strings.EqualFold(c.Environment, "DEV")
}

// DSN returns the Postgres connection string.
func (c *Config) DSN() string {
	if c.DB.URL != "" {
		return c.DB.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode,
	)
}

// normalizeURL strips whitespace and any trailing slash so paths can be
// appended safely.
func normalizeURL(input string) string {
	return strings.TrimRight(strings.TrimSpace(input), "/")
}
