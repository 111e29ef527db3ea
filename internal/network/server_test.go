package network

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/matta-server/internal/metrics"
	"github.com/annel0/matta-server/internal/protocol"
)

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	s, err := NewServer(cfg, metrics.New(prometheus.NewRegistry()))
	require.NoError(t, err)
	return s
}

func TestInboundQuotaIsFairShareOfBuffer(t *testing.T) {
	s := newTestServer(t, Config{RecvBufferSize: 64, MaxClients: 4})
	assert.Equal(t, int32(16), s.inboundQuota, "квота — доля буфера на клиента")

	// Для маленьких буферов квота не опускается ниже минимума
	s = newTestServer(t, Config{RecvBufferSize: 8, MaxClients: 8})
	assert.Equal(t, int32(16), s.inboundQuota)

	// Отсутствие предела клиентов не делит на ноль
	s = newTestServer(t, Config{RecvBufferSize: 64})
	assert.Equal(t, int32(16), s.inboundQuota)
}

func TestFloodingClientDropsOwnMessagesOnly(t *testing.T) {
	s := newTestServer(t, Config{RecvBufferSize: 64, MaxClients: 4})

	flooder := &clientConn{id: uuid.New()}
	peer := &clientConn{id: uuid.New()}

	// Флудер заполняет свою квоту целиком
	for i := int32(0); i < s.inboundQuota; i++ {
		s.pushInbound(flooder, Inbound{ClientID: flooder.id, Msg: &protocol.Input{}})
	}
	assert.Equal(t, s.inboundQuota, flooder.inboundPending.Load())
	assert.Len(t, s.inbound, int(s.inboundQuota))

	// Сверхквотные сообщения флудера дропаются
	s.pushInbound(flooder, Inbound{ClientID: flooder.id, Msg: &protocol.Input{}})
	assert.Equal(t, s.inboundQuota, flooder.inboundPending.Load())
	assert.Len(t, s.inbound, int(s.inboundQuota), "сообщения других клиентов не вытесняются")

	// Ввод другого клиента проходит как ни в чём не бывало
	s.pushInbound(peer, Inbound{ClientID: peer.id, Msg: &protocol.Input{}})
	assert.Equal(t, int32(1), peer.inboundPending.Load())
	assert.Len(t, s.inbound, int(s.inboundQuota)+1)
}

func TestReleaseReturnsQuota(t *testing.T) {
	s := newTestServer(t, Config{RecvBufferSize: 64, MaxClients: 4})
	c := &clientConn{id: uuid.New()}

	for i := int32(0); i < s.inboundQuota; i++ {
		s.pushInbound(c, Inbound{ClientID: c.id, Msg: &protocol.Input{}})
	}

	// Потребление сообщения освобождает место в квоте
	in := <-s.inbound
	in.Release()
	assert.Equal(t, s.inboundQuota-1, c.inboundPending.Load())

	s.pushInbound(c, Inbound{ClientID: c.id, Msg: &protocol.Input{}})
	assert.Equal(t, s.inboundQuota, c.inboundPending.Load())
}

func TestFullChannelDoesNotLeakQuota(t *testing.T) {
	// Квота (минимум 16) шире канала: упираемся в канал раньше квоты
	s := newTestServer(t, Config{RecvBufferSize: 8, MaxClients: 1})
	c := &clientConn{id: uuid.New()}

	for i := 0; i < 8; i++ {
		s.pushInbound(c, Inbound{ClientID: c.id, Msg: &protocol.Input{}})
	}
	s.pushInbound(c, Inbound{ClientID: c.id, Msg: &protocol.Input{}})

	assert.Equal(t, int32(8), c.inboundPending.Load(), "дроп из-за канала возвращает квоту")
	assert.Len(t, s.inbound, 8)
}

func TestReleaseOnZeroInboundIsSafe(t *testing.T) {
	assert.NotPanics(t, func() {
		var in Inbound
		in.Release()
	})
}

func TestSnapshotStatsReflectsCounters(t *testing.T) {
	c := &clientConn{remoteAddr: "203.0.113.7:9000"}
	c.packetsSent.Add(3)
	c.packetsReceived.Add(5)
	c.bytesSent.Add(100)
	c.bytesReceived.Add(200)
	now := time.Now()
	c.lastActivity.Store(now.UnixNano())

	st := c.snapshotStats()
	assert.Equal(t, uint64(3), st.PacketsSent)
	assert.Equal(t, uint64(5), st.PacketsReceived)
	assert.Equal(t, uint64(100), st.BytesSent)
	assert.Equal(t, uint64(200), st.BytesReceived)
	assert.Equal(t, "203.0.113.7:9000", st.RemoteAddr)
	assert.WithinDuration(t, now, st.LastActivity, time.Millisecond)
}
