package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefaults проверяет значения по умолчанию при пустом конфиге
func TestDefaults(t *testing.T) {
	t.Setenv("MATTA_CONFIG", "")
	t.Setenv("MATTA_GAME_PORT", "")
	t.Setenv("MATTA_MAX_CLIENTS", "")
	t.Setenv("MATTA_TICK_RATE", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.Server.GetGamePort())
	assert.Equal(t, 8088, cfg.Server.GetStatusPort())
	assert.Equal(t, 64, cfg.Server.GetMaxClients())
	assert.Equal(t, "0.0.0.0", cfg.Server.GetBindAddr())
	assert.Equal(t, 3*time.Second, cfg.Server.HandshakeTimeout())
	assert.Equal(t, 5*time.Second, cfg.Server.LivenessTimeout())

	assert.Equal(t, 60, cfg.Simulation.GetTickRate())
	assert.Equal(t, time.Second/60, cfg.Simulation.TickInterval())
	assert.Equal(t, 5, cfg.Simulation.GetCatchUpLimit())
	assert.Equal(t, uint32(2), cfg.Simulation.GetMaxLookahead())
	assert.Equal(t, 3, cfg.Simulation.GetGraceTicks())
	assert.Equal(t, float32(100.0), cfg.Simulation.GetInterestRadius())
	assert.Equal(t, int64(1337), cfg.Simulation.GetWorldSeed())

	assert.Equal(t, uint64(30), cfg.Replication.GetKeyframeEvery())
	assert.Equal(t, uint64(1), cfg.Replication.GetSnapshotEvery())
	assert.Equal(t, 64, cfg.Replication.GetBaselineHistory())
}

// TestEnvFallback проверяет приоритет env над дефолтом
func TestEnvFallback(t *testing.T) {
	t.Setenv("MATTA_GAME_PORT", "7777")
	t.Setenv("MATTA_MAX_CLIENTS", "8")
	t.Setenv("MATTA_TICK_RATE", "30")

	var cfg Config
	assert.Equal(t, 7777, cfg.Server.GetGamePort())
	assert.Equal(t, 8, cfg.Server.GetMaxClients())
	assert.Equal(t, 30, cfg.Simulation.GetTickRate())
	assert.Equal(t, time.Second/30, cfg.Simulation.TickInterval())
}

// TestConfigOverridesEnv проверяет, что явное значение конфига важнее окружения
func TestConfigOverridesEnv(t *testing.T) {
	t.Setenv("MATTA_GAME_PORT", "7777")

	cfg := Config{Server: ServerConfig{GamePort: 6000}}
	assert.Equal(t, 6000, cfg.Server.GetGamePort())
}

// TestEnvIgnoresGarbage проверяет, что мусор в переменной окружения
// не ломает загрузку
func TestEnvIgnoresGarbage(t *testing.T) {
	t.Setenv("MATTA_TICK_RATE", "not-a-number")
	t.Setenv("MATTA_CATCHUP_LIMIT", "-3")

	var cfg Config
	assert.Equal(t, 60, cfg.Simulation.GetTickRate())
	assert.Equal(t, 5, cfg.Simulation.GetCatchUpLimit())
}

// TestLoadYAML проверяет чтение конфигурации из файла
func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.yml")
	raw := `
server:
  game_port: 5555
  max_clients: 16
  compression: true
  bind_addr: "127.0.0.1"
simulation:
  tick_rate_hz: 20
  interest_radius: 50
  world_seed: 42
replication:
  keyframe_every: 10
  baseline_history: 8
eventbus:
  url: "nats://localhost:4222"
  stream: "matta-events"
replay:
  path: "/var/lib/matta/replay"
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5555, cfg.Server.GetGamePort())
	assert.Equal(t, 16, cfg.Server.GetMaxClients())
	assert.True(t, cfg.Server.Compression)
	assert.Equal(t, "127.0.0.1", cfg.Server.GetBindAddr())
	assert.Equal(t, 20, cfg.Simulation.GetTickRate())
	assert.Equal(t, float32(50), cfg.Simulation.GetInterestRadius())
	assert.Equal(t, int64(42), cfg.Simulation.GetWorldSeed())
	assert.Equal(t, uint64(10), cfg.Replication.GetKeyframeEvery())
	assert.Equal(t, 8, cfg.Replication.GetBaselineHistory())
	assert.Equal(t, "nats://localhost:4222", cfg.EventBus.URL)
	assert.Equal(t, "/var/lib/matta/replay", cfg.Replay.Path)
}

// TestLoadFromEnvVar проверяет путь конфига через MATTA_CONFIG
func TestLoadFromEnvVar(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "env.yml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  game_port: 9100\n"), 0o644))
	t.Setenv("MATTA_CONFIG", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.GetGamePort())
}

// TestLoadErrors проверяет ошибки чтения и парсинга
func TestLoadErrors(t *testing.T) {
	_, err := Load("/nonexistent/matta.yml")
	assert.Error(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "broken.yml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}
