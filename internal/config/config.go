// Package config загружает конфигурацию сервера из YAML с fallback
// на переменные окружения.
package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config — корневая структура конфигурации приложения.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	World    WorldConfig    `yaml:"world"`
	EventBus EventBusConfig `yaml:"eventbus"`
	Redis    RedisConfig    `yaml:"redis"`
}

// ServerConfig — сетевые настройки.
type ServerConfig struct {
	Host        string `yaml:"host"`
	TCPPort     int    `yaml:"tcp_port"`
	KCPPort     int    `yaml:"kcp_port"`
	MetricsPort int    `yaml:"metrics_port"`
	Transport   string `yaml:"transport"` // tcp | kcp
}

// WorldConfig — параметры мира.
type WorldConfig struct {
	Seed         uint64 `yaml:"seed"`
	AnchorRadius int    `yaml:"anchor_radius"`
	DataPath     string `yaml:"data_path"`
	Persistence  string `yaml:"persistence"` // badger | sqlite | none
}

// EventBusConfig — настройки шины событий.
type EventBusConfig struct {
	URL       string `yaml:"url"` // пусто — in-memory шина
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
}

// RedisConfig — настройки репозитория позиций.
type RedisConfig struct {
	Addr string `yaml:"addr"` // пусто — репозиторий в памяти
}

// GetHost возвращает хост с поддержкой fallback значений.
func (s *ServerConfig) GetHost() string {
	return getStringWithEnvFallback(s.Host, "VOXEL_HOST", "0.0.0.0")
}

// GetTCPPort возвращает TCP порт с поддержкой fallback значений.
func (s *ServerConfig) GetTCPPort() int {
	return getPortWithEnvFallback(s.TCPPort, "VOXEL_TCP_PORT", 8421)
}

// GetKCPPort возвращает KCP порт с поддержкой fallback значений.
func (s *ServerConfig) GetKCPPort() int {
	return getPortWithEnvFallback(s.KCPPort, "VOXEL_KCP_PORT", 8422)
}

// GetMetricsPort возвращает порт Prometheus метрик с поддержкой fallback значений.
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "VOXEL_METRICS_PORT", 2112)
}

// GetTransport возвращает транспорт (tcp/kcp) с поддержкой fallback значений.
func (s *ServerConfig) GetTransport() string {
	return getStringWithEnvFallback(s.Transport, "VOXEL_TRANSPORT", "tcp")
}

// GetSeed возвращает сид мира с поддержкой fallback значений.
func (w *WorldConfig) GetSeed() uint64 {
	if w.Seed != 0 {
		return w.Seed
	}
	if envVal := os.Getenv("VOXEL_SEED"); envVal != "" {
		if seed, err := strconv.ParseUint(envVal, 10, 64); err == nil {
			return seed
		}
	}
	return 42
}

// GetAnchorRadius возвращает радиус якорей в чанках.
func (w *WorldConfig) GetAnchorRadius() int {
	if w.AnchorRadius > 0 {
		return w.AnchorRadius
	}
	if envVal := os.Getenv("VOXEL_ANCHOR_RADIUS"); envVal != "" {
		if r, err := strconv.Atoi(envVal); err == nil && r > 0 {
			return r
		}
	}
	return 3
}

// GetDataPath возвращает путь к данным мира.
func (w *WorldConfig) GetDataPath() string {
	return getStringWithEnvFallback(w.DataPath, "VOXEL_DATA_PATH", "data")
}

// GetPersistence возвращает бэкенд персистентности.
func (w *WorldConfig) GetPersistence() string {
	return getStringWithEnvFallback(w.Persistence, "VOXEL_PERSISTENCE", "badger")
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default.
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}
	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}
	return defaultPort
}

// getStringWithEnvFallback возвращает строку с приоритетом: config -> env -> default.
func getStringWithEnvFallback(configVal, envVar, defaultVal string) string {
	if configVal != "" {
		return configVal
	}
	if envVal := os.Getenv(envVar); envVal != "" {
		return envVal
	}
	return defaultVal
}

// Load читает YAML файл конфигурации.
// Если path == "", пытается прочитать из ENV VOXEL_CONFIG или возвращает
// пустую конфигурацию (все значения из env/default).
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("VOXEL_CONFIG")
		if path == "" {
			return &Config{}, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
