package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	grpcclient "github.com/leoncaiau912/prometheus-proxy/internal/grpc/client"
	"github.com/leoncaiau912/prometheus-proxy/internal/logging"
	"github.com/spf13/viper"
)

var valid = validator.New()

type Config struct {
	Log   logging.Config `mapstructure:"log"`
	Grpc  GrpcConfig     `mapstructure:"grpc"`
	Agent AgentConfig    `mapstructure:"agent"`
}

type GrpcConfig struct {
	ServerAddress string    `mapstructure:"server_address" validate:"required"`
	TLS           TLSConfig `mapstructure:"tls"`
}

type TLSConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	CertFile           string `mapstructure:"cert_file" validate:"required_with=KeyFile"`
	KeyFile            string `mapstructure:"key_file" validate:"required_with=CertFile"`
	CAFile             string `mapstructure:"ca_file" validate:"required_if=Enabled true"`
	ServerNameOverride string `mapstructure:"server_name_override"`
}

type AgentConfig struct {
	Name                  string       `mapstructure:"name"`
	ScrapeTimeoutSecs     int          `mapstructure:"scrape_timeout_secs" validate:"min=1"`
	ChunkContentSizeKbs   int          `mapstructure:"chunk_content_size_kbs" validate:"min=1"`
	MinGzipSizeBytes      int          `mapstructure:"min_gzip_size_bytes" validate:"min=0"`
	HeartbeatIntervalSecs int          `mapstructure:"heartbeat_interval_secs" validate:"min=1"`
	PathConfigs           []PathConfig `mapstructure:"path_configs" validate:"required,min=1,dive"`
}

type PathConfig struct {
	Name string `mapstructure:"name"`
	Path string `mapstructure:"path" validate:"required"`
	URL  string `mapstructure:"url" validate:"required,url"`
}

var config Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", logging.LevelInfo)
	v.SetDefault("log.format", logging.FormatText)
	v.SetDefault("grpc.server_address", "localhost:50051")
	v.SetDefault("grpc.tls.enabled", false)
	v.SetDefault("agent.scrape_timeout_secs", 15)
	v.SetDefault("agent.chunk_content_size_kbs", 32)
	v.SetDefault("agent.min_gzip_size_bytes", 512)
	v.SetDefault("agent.heartbeat_interval_secs", 5)
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

	cfg, err := loadConfig(viper.GetViper(), ".", "./cmd/prometheus-agent")
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

func (c Config) ClientConfig() grpcclient.Config {
	pathConfigs := make([]grpcclient.PathConfig, len(c.Agent.PathConfigs))
	for i, pc := range c.Agent.PathConfigs {
		pathConfigs[i] = grpcclient.PathConfig{
			Name: pc.Name,
			Path: pc.Path,
			URL:  pc.URL,
		}
	}

	return grpcclient.Config{
		ServerAddress: c.Grpc.ServerAddress,
		AgentName:     c.Agent.Name,
		TLS: &grpcclient.TLSConfig{
			Enabled:            c.Grpc.TLS.Enabled,
			CertFile:           c.Grpc.TLS.CertFile,
			KeyFile:            c.Grpc.TLS.KeyFile,
			CAFile:             c.Grpc.TLS.CAFile,
			ServerNameOverride: c.Grpc.TLS.ServerNameOverride,
		},
		PathConfigs:       pathConfigs,
		ScrapeTimeout:     time.Duration(c.Agent.ScrapeTimeoutSecs) * time.Second,
		ChunkSize:         c.Agent.ChunkContentSizeKbs * 1024,
		MinGzipSize:       c.Agent.MinGzipSizeBytes,
		HeartbeatInterval: time.Duration(c.Agent.HeartbeatIntervalSecs) * time.Second,
	}
}
