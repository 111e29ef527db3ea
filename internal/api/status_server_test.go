package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Единственный сервер на весь пакет: middleware регистрирует метрики
// в дефолтном регистре Prometheus, повторная регистрация — паника
func newStatusFixture() *StatusServer {
	return NewStatusServer(0, func() StatusSnapshot {
		return StatusSnapshot{
			State:    "ticking",
			Tick:     420,
			Sessions: 2,
			Entities: 7,
			Connections: []ConnectionStatus{
				{
					ClientID:        "11111111-2222-3333-4444-555555555555",
					RemoteAddr:      "203.0.113.7:9000",
					PacketsSent:     30,
					PacketsReceived: 12,
					BytesSent:       4096,
					BytesReceived:   512,
					LastActivity:    time.Now(),
				},
				{
					ClientID:   "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee",
					RemoteAddr: "203.0.113.8:9000",
				},
			},
		}
	})
}

func TestStatusEndpoints(t *testing.T) {
	ss := newStatusFixture()

	t.Run("health", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		ss.router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "ok", body["status"])
	})

	t.Run("status содержит сводку симуляции", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/status", nil)
		ss.router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			State       string             `json:"state"`
			Tick        uint64             `json:"tick"`
			Sessions    int                `json:"sessions"`
			Entities    int                `json:"entities"`
			Connections []ConnectionStatus `json:"connections"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

		assert.Equal(t, "ticking", body.State)
		assert.Equal(t, uint64(420), body.Tick)
		assert.Equal(t, 2, body.Sessions)
		assert.Equal(t, 7, body.Entities)
	})

	t.Run("status содержит статистику соединений", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/status", nil)
		ss.router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Connections []ConnectionStatus `json:"connections"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

		require.Len(t, body.Connections, 2)
		first := body.Connections[0]
		assert.Equal(t, "11111111-2222-3333-4444-555555555555", first.ClientID)
		assert.Equal(t, "203.0.113.7:9000", first.RemoteAddr)
		assert.Equal(t, uint64(30), first.PacketsSent)
		assert.Equal(t, uint64(12), first.PacketsReceived)
		assert.Equal(t, uint64(4096), first.BytesSent)
		assert.Equal(t, uint64(512), first.BytesReceived)
	})
}
