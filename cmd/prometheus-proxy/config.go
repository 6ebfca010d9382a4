package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/leoncaiau912/prometheus-proxy/internal/api/http"
	grpcserver "github.com/leoncaiau912/prometheus-proxy/internal/grpc/server"
	"github.com/leoncaiau912/prometheus-proxy/internal/logging"
	"github.com/spf13/viper"
)

var valid = validator.New()

type Config struct {
	Log   logging.Config `mapstructure:"log"`
	Http  http.Config    `mapstructure:"http"`
	Grpc  GrpcConfig     `mapstructure:"grpc"`
	Proxy ProxyConfig    `mapstructure:"proxy"`
}

type GrpcConfig struct {
	Port int       `mapstructure:"port" validate:"required,min=1,max=65535"`
	TLS  TLSConfig `mapstructure:"tls"`
}

type TLSConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	AutoGenerate bool   `mapstructure:"auto_generate"`
	CertFile     string `mapstructure:"cert_file" validate:"required_if=Enabled true"`
	KeyFile      string `mapstructure:"key_file" validate:"required_if=Enabled true"`
	CAFile       string `mapstructure:"ca_file"`
	CAKeyFile    string `mapstructure:"ca_key_file" validate:"required_if=AutoGenerate true"`
	ClientAuth   string `mapstructure:"client_auth" validate:"omitempty,oneof=none request require"`
	DomainNames  string `mapstructure:"domain_names"`
	IPAddresses  string `mapstructure:"ip_addresses"`
}

type ProxyConfig struct {
	ScrapeRequestQueueSize        int  `mapstructure:"scrape_request_queue_size" validate:"min=1"`
	ScrapeRequestQueueCheckMillis int  `mapstructure:"scrape_request_queue_check_millis" validate:"min=1"`
	ScrapeRequestTimeoutSecs      int  `mapstructure:"scrape_request_timeout_secs" validate:"min=1"`
	StaleAgentCheckEnabled        bool `mapstructure:"stale_agent_check_enabled"`
	MaxAgentInactivitySecs        int  `mapstructure:"max_agent_inactivity_secs" validate:"min=1"`
	StaleAgentCheckPauseSecs      int  `mapstructure:"stale_agent_check_pause_secs" validate:"min=1"`
}

var config Config

func ParseCommaSeparated(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", logging.LevelInfo)
	v.SetDefault("log.format", logging.FormatText)
	v.SetDefault("http.port", 8080)
	v.SetDefault("grpc.port", 50051)
	v.SetDefault("grpc.tls.enabled", false)
	v.SetDefault("grpc.tls.auto_generate", false)
	v.SetDefault("grpc.tls.client_auth", "none")
	v.SetDefault("proxy.scrape_request_queue_size", 128)
	v.SetDefault("proxy.scrape_request_queue_check_millis", 500)
	v.SetDefault("proxy.scrape_request_timeout_secs", 90)
	v.SetDefault("proxy.stale_agent_check_enabled", true)
	v.SetDefault("proxy.max_agent_inactivity_secs", 60)
	v.SetDefault("proxy.stale_agent_check_pause_secs", 10)
}

func loadConfig(v *viper.Viper, configPaths ...string) (Config, error) {
	var cfg Config

	setDefaults(v)
	v.SetConfigName("application")
	for _, path := range configPaths {
		v.AddConfigPath(path)
	}
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := valid.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func InitConfig() {
	_ = godotenv.Load()

	cfg, err := loadConfig(viper.GetViper(), ".", "./cmd/prometheus-proxy")
	if err != nil {
		panic(err)
	}
	config = cfg

	logging.Init(config.Log)

	if config.Log.Debug() {
		configJSON, err := json.MarshalIndent(config, "", "  ")
		if err == nil {
			fmt.Println("Config loaded:")
			fmt.Println(string(configJSON))
		}
	}
}

func (c Config) ServerConfig() grpcserver.Config {
	return grpcserver.Config{
		Port: c.Grpc.Port,
		TLS: &grpcserver.TLSConfig{
			Enabled:    c.Grpc.TLS.Enabled,
			CertFile:   c.Grpc.TLS.CertFile,
			KeyFile:    c.Grpc.TLS.KeyFile,
			CAFile:     c.Grpc.TLS.CAFile,
			ClientAuth: c.Grpc.TLS.ClientAuth,
		},
		ScrapeRequestQueueSize:  c.Proxy.ScrapeRequestQueueSize,
		ScrapeRequestQueueCheck: time.Duration(c.Proxy.ScrapeRequestQueueCheckMillis) * time.Millisecond,
		ScrapeRequestTimeout:    time.Duration(c.Proxy.ScrapeRequestTimeoutSecs) * time.Second,
		StaleAgentCheckEnabled:  c.Proxy.StaleAgentCheckEnabled,
		MaxAgentInactivity:      time.Duration(c.Proxy.MaxAgentInactivitySecs) * time.Second,
		StaleAgentCheckPause:    time.Duration(c.Proxy.StaleAgentCheckPauseSecs) * time.Second,
	}
}
