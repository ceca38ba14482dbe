// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "IDEWORKER"

// Config holds all configuration for the ide-worker binary.
// The mapstructure tags are used by Viper to unmarshal the data.
type Config struct {
	WorkerPath      string        `mapstructure:"worker_path"`
	SocketDir       string        `mapstructure:"socket_dir"`
	SpawnTimeout    time.Duration `mapstructure:"spawn_timeout" validate:"gte=0"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval" validate:"required_with=SpawnTimeout,gte=0"`
	CallTimeout     time.Duration `mapstructure:"call_timeout" validate:"gte=0"`
	HttpListenAddr  string        `mapstructure:"http_listen_addr"`
	GrpcListenAddr  string        `mapstructure:"grpc_listen_addr"`
	EtcdEndpoints   []string      `mapstructure:"etcd_endpoints" validate:"dive,required"`
	EtcdTimeout     time.Duration `mapstructure:"etcd_timeout" validate:"gt=0"`
	DirectoryTTL    time.Duration `mapstructure:"directory_ttl" validate:"gte=1s"`
	FlatpakRepoName string        `mapstructure:"flatpak_repo_name" validate:"required"`
	CacheDir        string        `mapstructure:"cache_dir" validate:"required"`
	LogLevel        string        `mapstructure:"log_level" validate:"oneof=debug info warn error"`
}

// Load reads configuration from defaults, an optional config file and
// IDEWORKER_* environment variables. An empty file means config.yaml in
// ./configs or the working directory.
func Load(file string) (*Config, error) {
	v := viper.New()

	v.SetDefault("worker_path", "")
	v.SetDefault("socket_dir", "")
	v.SetDefault("spawn_timeout", "30s")
	v.SetDefault("sweep_interval", "5s")
	v.SetDefault("call_timeout", "30s")
	v.SetDefault("http_listen_addr", ":8080")
	v.SetDefault("grpc_listen_addr", "")
	v.SetDefault("etcd_endpoints", []string{})
	v.SetDefault("etcd_timeout", "5s")
	v.SetDefault("directory_ttl", "10s")
	v.SetDefault("flatpak_repo_name", "gnome-builder-builds")
	v.SetDefault("cache_dir", defaultCacheDir())
	v.SetDefault("log_level", "info")

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.EtcdEndpoints = splitList(cfg.EtcdEndpoints)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// splitList accepts both YAML lists and comma separated env values.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir
	}
	return filepath.Join(os.TempDir(), "ide-worker-cache")
}
