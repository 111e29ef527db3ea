package network

import (
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	kcp "github.com/xtaci/kcp-go/v5"

	"github.com/annel0/matta-server/internal/protocol"
)

// clientConn — одно логическое соединение клиента.
// Писатель — единственная горутина writeLoop; отправители кладут кадры
// в очереди. Надёжная очередь блокирует отправителя при заполнении,
// очередь снапшотов заменяет самый старый кадр (latest-state-wins).
type clientConn struct {
	id   uuid.UUID
	name string
	conn *kcp.UDPSession

	// Надёжный канал: рукопожатие, кейфреймы, уведомления об отключении
	reliable chan []byte
	// Канал снапшотов: устаревший кадр вытесняется свежим
	snapshots chan []byte

	remoteAddr string

	// Счётчики пишутся горутинами чтения/записи, читаются статусным API
	packetsSent     atomic.Uint64
	packetsReceived atomic.Uint64
	bytesSent       atomic.Uint64
	bytesReceived   atomic.Uint64
	lastActivity    atomic.Int64 // UnixNano

	// Сообщения этого клиента, ещё не потреблённые симуляцией
	inboundPending atomic.Int32

	closeOnce sync.Once
	closed    chan struct{}
}

func newClientConn(id uuid.UUID, name string, conn *kcp.UDPSession, sendBuffer int) *clientConn {
	// Настройки KCP для игрового трафика
	conn.SetStreamMode(true)
	conn.SetWriteDelay(false)
	conn.SetNoDelay(1, 20, 2, 1)
	conn.SetWindowSize(512, 512)
	conn.SetMtu(1400)

	c := &clientConn{
		id:         id,
		name:       name,
		conn:       conn,
		reliable:   make(chan []byte, sendBuffer),
		snapshots:  make(chan []byte, sendBuffer),
		remoteAddr: conn.RemoteAddr().String(),
		closed:     make(chan struct{}),
	}
	c.lastActivity.Store(time.Now().UnixNano())
	return c
}

// snapshotStats возвращает согласованный срез статистики соединения
func (c *clientConn) snapshotStats() ConnectionStats {
	return ConnectionStats{
		PacketsSent:     c.packetsSent.Load(),
		PacketsReceived: c.packetsReceived.Load(),
		BytesSent:       c.bytesSent.Load(),
		BytesReceived:   c.bytesReceived.Load(),
		LastActivity:    time.Unix(0, c.lastActivity.Load()),
		RemoteAddr:      c.remoteAddr,
	}
}

// releaseInbound возвращает место в квоте входящих сообщений клиента
func (c *clientConn) releaseInbound() { c.inboundPending.Add(-1) }

// enqueueReliable ставит кадр в надёжную очередь.
// Блокирует не дольше таймаута; переполнение — ошибка соединения.
func (c *clientConn) enqueueReliable(frame []byte, timeout time.Duration) error {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case c.reliable <- frame:
		return nil
	case <-c.closed:
		return fmt.Errorf("connection closed")
	case <-t.C:
		return fmt.Errorf("reliable queue full")
	}
}

// enqueueSnapshot кладёт кадр снапшота, не блокируясь: при заполненной
// очереди самый старый неотправленный кадр вытесняется.
// Возвращает true, если пришлось вытеснить старый кадр.
func (c *clientConn) enqueueSnapshot(frame []byte) (dropped bool) {
	for {
		select {
		case c.snapshots <- frame:
			return dropped
		case <-c.closed:
			return dropped
		default:
		}
		select {
		case <-c.snapshots:
			dropped = true
		default:
		}
	}
}

// writeLoop — единственный писатель соединения.
// Надёжная очередь имеет приоритет над снапшотами.
func (c *clientConn) writeLoop(onError func(error)) {
	for {
		var frame []byte
		select {
		case <-c.closed:
			return
		case frame = <-c.reliable:
		default:
			select {
			case <-c.closed:
				return
			case frame = <-c.reliable:
			case frame = <-c.snapshots:
			}
		}

		if _, err := c.conn.Write(frame); err != nil {
			onError(err)
			return
		}
		c.packetsSent.Add(1)
		c.bytesSent.Add(uint64(len(frame)))
	}
}

// readFrame читает один кадр протокола из потока.
// Дедлайн задаёт таймаут живости: отсутствие трафика в окне — разрыв.
func (c *clientConn) readFrame(deadline time.Duration) ([]byte, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(deadline)); err != nil {
		return nil, err
	}

	header := make([]byte, protocol.HeaderSize)
	if _, err := io.ReadFull(c.conn, header); err != nil {
		return nil, err
	}

	total, err := protocol.FrameLength(header)
	if err != nil {
		return nil, err
	}

	frame := make([]byte, total)
	copy(frame, header)
	if total > protocol.HeaderSize {
		if _, err := io.ReadFull(c.conn, frame[protocol.HeaderSize:]); err != nil {
			return nil, err
		}
	}

	c.packetsReceived.Add(1)
	c.bytesReceived.Add(uint64(total))
	c.lastActivity.Store(time.Now().UnixNano())
	return frame, nil
}

// close закрывает соединение; безопасно вызывать многократно
func (c *clientConn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}

// isTimeout проверяет, является ли ошибка таймаутом чтения
func isTimeout(err error) bool {
	netErr, ok := err.(net.Error)
	return ok && netErr.Timeout()
}
