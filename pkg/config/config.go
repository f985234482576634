package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/montycloud/moya/internal/ratelimit"
)

// Config rappresenta la configurazione completa dell'applicazione
type Config struct {
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Memory       MemoryConfig       `yaml:"memory" mapstructure:"memory"`
	Agents       []AgentConfig      `yaml:"agents" mapstructure:"agents"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" mapstructure:"orchestrator"`
	Monitoring   MonitoringConfig   `yaml:"monitoring" mapstructure:"monitoring"`
}

// ServerConfig configurazione del server HTTP
type ServerConfig struct {
	Host           string  `yaml:"host" mapstructure:"host"`
	Port           int     `yaml:"port" mapstructure:"port"`
	JWTSecret      string  `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst" mapstructure:"rate_limit_burst"`
}

// Addr restituisce l'indirizzo di ascolto host:porta.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// MemoryConfig configurazione del repository di conversazione.
// Backend: "inmemory", "redis" o "database".
type MemoryConfig struct {
	Backend  string         `yaml:"backend" mapstructure:"backend"`
	Redis    RedisConfig    `yaml:"redis" mapstructure:"redis"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
}

// RedisConfig configurazione Redis
type RedisConfig struct {
	Addr      string        `yaml:"addr" mapstructure:"addr"`
	Password  string        `yaml:"password" mapstructure:"password"`
	DB        int           `yaml:"db" mapstructure:"db"`
	KeyPrefix string        `yaml:"key_prefix" mapstructure:"key_prefix"`
	TTL       time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// DatabaseConfig configurazione del database relazionale
type DatabaseConfig struct {
	Type       string `yaml:"type" mapstructure:"type"`
	Connection string `yaml:"connection" mapstructure:"connection"`
	MaxConns   int    `yaml:"max_conns" mapstructure:"max_conns"`
	LogLevel   string `yaml:"log_level" mapstructure:"log_level"`
}

// AgentConfig descrive un agente da istanziare all'avvio
type AgentConfig struct {
	Name         string           `yaml:"name" mapstructure:"name"`
	Type         string           `yaml:"type" mapstructure:"type"`
	Description  string           `yaml:"description" mapstructure:"description"`
	SystemPrompt string           `yaml:"system_prompt" mapstructure:"system_prompt"`
	Model        string           `yaml:"model" mapstructure:"model"`
	Temperature  *float64         `yaml:"temperature" mapstructure:"temperature"`
	MaxTokens    *int             `yaml:"max_tokens" mapstructure:"max_tokens"`
	Timeout      time.Duration    `yaml:"timeout" mapstructure:"timeout"`
	RateLimit    ratelimit.Config `yaml:"rate_limit" mapstructure:"rate_limit"`

	// Campi specifici per provider.
	BaseURL    string `yaml:"base_url" mapstructure:"base_url"`
	APIKey     string `yaml:"api_key" mapstructure:"api_key"`
	Endpoint   string `yaml:"endpoint" mapstructure:"endpoint"`
	Deployment string `yaml:"deployment" mapstructure:"deployment"`
	APIVersion string `yaml:"api_version" mapstructure:"api_version"`
	Region     string `yaml:"region" mapstructure:"region"`
	Function   string `yaml:"function" mapstructure:"function"`
	AuthToken  string `yaml:"auth_token" mapstructure:"auth_token"`
}

// OrchestratorConfig configurazione dell'orchestratore
type OrchestratorConfig struct {
	// Mode: "simple", "keyword" o "llm".
	Mode          string              `yaml:"mode" mapstructure:"mode"`
	DefaultAgent  string              `yaml:"default_agent" mapstructure:"default_agent"`
	Classifier    string              `yaml:"classifier" mapstructure:"classifier"`
	Keywords      map[string][]string `yaml:"keywords" mapstructure:"keywords"`
	ContextWindow int                 `yaml:"context_window" mapstructure:"context_window"`
}

// MonitoringConfig configurazione monitoring
type MonitoringConfig struct {
	Prometheus struct {
		Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
		Namespace string `yaml:"namespace" mapstructure:"namespace"`
	} `yaml:"prometheus" mapstructure:"prometheus"`
	Logging struct {
		Level  string `yaml:"level" mapstructure:"level"`
		Format string `yaml:"format" mapstructure:"format"`
	} `yaml:"logging" mapstructure:"logging"`
}

// Load carica la configurazione da file, con override da variabili
// d'ambiente prefissate MOYA_.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("MOYA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found, use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults imposta i valori di default
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit_rps", 0)

	v.SetDefault("memory.backend", "inmemory")
	v.SetDefault("memory.redis.addr", "localhost:6379")
	v.SetDefault("memory.redis.key_prefix", "moya")
	v.SetDefault("memory.database.type", "sqlite")
	v.SetDefault("memory.database.connection", "./data/moya.db")
	v.SetDefault("memory.database.max_conns", 25)
	v.SetDefault("memory.database.log_level", "warn")

	v.SetDefault("orchestrator.mode", "simple")
	v.SetDefault("orchestrator.context_window", 5)

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.namespace", "moya")
	v.SetDefault("monitoring.logging.level", "info")
	v.SetDefault("monitoring.logging.format", "json")
}

var validBackends = map[string]struct{}{
	"inmemory": {},
	"redis":    {},
	"database": {},
}

var validModes = map[string]struct{}{
	"simple":  {},
	"keyword": {},
	"llm":     {},
}

// Validate valida la configurazione
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if _, ok := validBackends[c.Memory.Backend]; !ok {
		return fmt.Errorf("invalid memory backend: %q", c.Memory.Backend)
	}
	if _, ok := validModes[c.Orchestrator.Mode]; !ok {
		return fmt.Errorf("invalid orchestrator mode: %q", c.Orchestrator.Mode)
	}

	seen := make(map[string]struct{}, len(c.Agents))
	for _, a := range c.Agents {
		if a.Name == "" {
			return fmt.Errorf("agent without a name")
		}
		if _, dup := seen[a.Name]; dup {
			return fmt.Errorf("duplicate agent name: %q", a.Name)
		}
		seen[a.Name] = struct{}{}
	}

	if c.Orchestrator.DefaultAgent != "" {
		if _, ok := seen[c.Orchestrator.DefaultAgent]; !ok {
			return fmt.Errorf("default agent %q is not defined", c.Orchestrator.DefaultAgent)
		}
	}
	if c.Orchestrator.Mode == "llm" && c.Orchestrator.Classifier != "" {
		if _, ok := seen[c.Orchestrator.Classifier]; !ok {
			return fmt.Errorf("classifier agent %q is not defined", c.Orchestrator.Classifier)
		}
	}
	return nil
}
