// Package config читает конфигурацию сервера из YAML с запасными
// значениями из переменных окружения.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации приложения
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Simulation  SimulationConfig  `yaml:"simulation"`
	Replication ReplicationConfig `yaml:"replication"`
	EventBus    EventBusConfig    `yaml:"eventbus"`
	Replay      ReplayConfig      `yaml:"replay"`
}

// ServerConfig — сетевые параметры
type ServerConfig struct {
	GamePort       int    `yaml:"game_port"`        // KCP порт игрового трафика
	StatusPort     int    `yaml:"status_port"`      // REST статус/метрики
	MaxClients     int    `yaml:"max_clients"`      // Максимум одновременных сессий
	HandshakeSecs  int    `yaml:"handshake_secs"`   // Таймаут рукопожатия
	LivenessSecs   int    `yaml:"liveness_secs"`    // Таймаут бездействия до отключения
	RecvBufferSize int    `yaml:"recv_buffer_size"` // Ёмкость канала вход I/O -> симуляция
	SendBufferSize int    `yaml:"send_buffer_size"` // Ёмкость очереди снапшотов на клиента
	Compression    bool   `yaml:"compression"`      // zstd для больших снапшотов
	BindAddr       string `yaml:"bind_addr"`
}

// SimulationConfig — параметры цикла симуляции
type SimulationConfig struct {
	TickRateHz     int     `yaml:"tick_rate_hz"`    // Частота тиков
	CatchUpLimit   int     `yaml:"catch_up_limit"`  // Максимум тиков за один кадр реального времени
	MaxLookahead   uint32  `yaml:"max_lookahead"`   // Окно опережения для команд ввода (в тиках)
	InputQueueCap  int     `yaml:"input_queue_cap"` // Предел очереди ввода на клиента
	GraceTicks     int     `yaml:"grace_ticks"`     // Тиков дорабатываем при остановке
	InterestRadius float32 `yaml:"interest_radius"` // Радиус релевантности сущностей
	WorldSeed      int64   `yaml:"world_seed"`      // Зерно для начального наполнения мира
}

// ReplicationConfig — параметры рассылки снапшотов
type ReplicationConfig struct {
	KeyframeEvery   uint64 `yaml:"keyframe_every"`   // Кейфрейм каждые N тиков
	SnapshotEvery   uint64 `yaml:"snapshot_every"`   // Снапшот клиенту не чаще, чем раз в N тиков
	BaselineHistory int    `yaml:"baseline_history"` // Сколько тиков держим как базу для дельт
}

// EventBusConfig — внешняя шина событий (опционально)
type EventBusConfig struct {
	URL    string `yaml:"url"`    // NATS URL; пусто — только in-memory шина
	Stream string `yaml:"stream"` // Имя JetStream потока
}

// ReplayConfig — журнал снапшотов (опционально)
type ReplayConfig struct {
	Path string `yaml:"path"` // Каталог badger; пусто — журнал отключён
}

// GetGamePort возвращает игровой порт с приоритетом: config -> env -> default
func (s *ServerConfig) GetGamePort() int {
	return getIntWithEnvFallback(s.GamePort, "MATTA_GAME_PORT", 5000)
}

// GetStatusPort возвращает порт статуса/метрик
func (s *ServerConfig) GetStatusPort() int {
	return getIntWithEnvFallback(s.StatusPort, "MATTA_STATUS_PORT", 8088)
}

// GetMaxClients возвращает предел одновременных клиентов
func (s *ServerConfig) GetMaxClients() int {
	return getIntWithEnvFallback(s.MaxClients, "MATTA_MAX_CLIENTS", 64)
}

// GetBindAddr возвращает адрес для bind
func (s *ServerConfig) GetBindAddr() string {
	if s.BindAddr != "" {
		return s.BindAddr
	}
	if env := os.Getenv("MATTA_BIND_ADDR"); env != "" {
		return env
	}
	return "0.0.0.0"
}

// HandshakeTimeout возвращает таймаут рукопожатия
func (s *ServerConfig) HandshakeTimeout() time.Duration {
	return time.Duration(getIntWithEnvFallback(s.HandshakeSecs, "MATTA_HANDSHAKE_SECS", 3)) * time.Second
}

// LivenessTimeout возвращает таймаут бездействия
func (s *ServerConfig) LivenessTimeout() time.Duration {
	return time.Duration(getIntWithEnvFallback(s.LivenessSecs, "MATTA_LIVENESS_SECS", 5)) * time.Second
}

// GetRecvBufferSize возвращает ёмкость входного канала
func (s *ServerConfig) GetRecvBufferSize() int {
	return getIntWithEnvFallback(s.RecvBufferSize, "MATTA_RECV_BUFFER", 4096)
}

// GetSendBufferSize возвращает ёмкость исходящей очереди на клиента
func (s *ServerConfig) GetSendBufferSize() int {
	return getIntWithEnvFallback(s.SendBufferSize, "MATTA_SEND_BUFFER", 8)
}

// GetTickRate возвращает частоту тиков
func (c *SimulationConfig) GetTickRate() int {
	return getIntWithEnvFallback(c.TickRateHz, "MATTA_TICK_RATE", 60)
}

// TickInterval возвращает фиксированный dt
func (c *SimulationConfig) TickInterval() time.Duration {
	return time.Second / time.Duration(c.GetTickRate())
}

// GetCatchUpLimit возвращает предел тиков за кадр
func (c *SimulationConfig) GetCatchUpLimit() int {
	return getIntWithEnvFallback(c.CatchUpLimit, "MATTA_CATCHUP_LIMIT", 5)
}

// GetMaxLookahead возвращает окно опережения ввода
func (c *SimulationConfig) GetMaxLookahead() uint32 {
	if c.MaxLookahead > 0 {
		return c.MaxLookahead
	}
	return 2
}

// GetInputQueueCap возвращает предел очереди ввода
func (c *SimulationConfig) GetInputQueueCap() int {
	return getIntWithEnvFallback(c.InputQueueCap, "MATTA_INPUT_QUEUE_CAP", 128)
}

// GetGraceTicks возвращает число тиков доработки при остановке
func (c *SimulationConfig) GetGraceTicks() int {
	return getIntWithEnvFallback(c.GraceTicks, "MATTA_GRACE_TICKS", 3)
}

// GetInterestRadius возвращает радиус релевантности
func (c *SimulationConfig) GetInterestRadius() float32 {
	if c.InterestRadius > 0 {
		return c.InterestRadius
	}
	return 100.0
}

// GetWorldSeed возвращает зерно начального наполнения мира
func (c *SimulationConfig) GetWorldSeed() int64 {
	if c.WorldSeed != 0 {
		return c.WorldSeed
	}
	return 1337
}

// GetKeyframeEvery возвращает период кейфреймов
func (r *ReplicationConfig) GetKeyframeEvery() uint64 {
	if r.KeyframeEvery > 0 {
		return r.KeyframeEvery
	}
	return 30
}

// GetSnapshotEvery возвращает минимальный период снапшотов на клиента
func (r *ReplicationConfig) GetSnapshotEvery() uint64 {
	if r.SnapshotEvery > 0 {
		return r.SnapshotEvery
	}
	return 1
}

// GetBaselineHistory возвращает глубину истории базовых тиков
func (r *ReplicationConfig) GetBaselineHistory() int {
	return getIntWithEnvFallback(r.BaselineHistory, "MATTA_BASELINE_HISTORY", 64)
}

// getIntWithEnvFallback возвращает значение с приоритетом: config -> env -> default
func getIntWithEnvFallback(configVal int, envVar string, defaultVal int) int {
	if configVal > 0 {
		return configVal
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if v, err := strconv.Atoi(envVal); err == nil && v > 0 {
			return v
		}
	}

	return defaultVal
}

// Load читает YAML файл конфигурации.
// Если path == "", пытается прочитать из ENV MATTA_CONFIG или возвращает
// пустой Config — все значения возьмутся из окружения или дефолтов.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MATTA_CONFIG")
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
