// Package network реализует транспортный слой: KCP-соединения клиентов,
// рукопожатие, доставку сообщений и события жизненного цикла сессий.
// Транспорт работает в своём домене конкурентности и общается с
// симуляцией исключительно через ограниченные каналы.
package network

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/matta-server/internal/protocol"
)

// Inbound — декодированное сообщение клиента, направленное в симуляцию
type Inbound struct {
	ClientID uuid.UUID
	Msg      protocol.Message
	Tick     uint64 // Тик отправителя из заголовка

	release func()
}

// Release возвращает сообщение в квоту клиента. Вызывается потребителем
// после обработки; безопасно для нулевого значения Inbound.
func (in Inbound) Release() {
	if in.release != nil {
		in.release()
	}
}

// SessionEventType — тип события жизненного цикла сессии
type SessionEventType int

const (
	SessionConnected SessionEventType = iota
	SessionDisconnected
)

// SessionEvent доставляется симуляции как сообщение, а не как флаг.
// Disconnect излучается ровно один раз на клиента.
type SessionEvent struct {
	Type     SessionEventType
	ClientID uuid.UUID
	Name     string // Имя игрока из рукопожатия (для Connected)
	Reason   uint8  // Причина (для Disconnected)
	Err      error  // Породившая ошибка, если была
}

// HandshakeError — рукопожатие не состоялось; сессия не создаётся
type HandshakeError struct {
	Addr   string
	Reason error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("network: handshake with %s failed: %v", e.Addr, e.Reason)
}

func (e *HandshakeError) Unwrap() error { return e.Reason }

// TransportError — фатальная для соединения ошибка; влечёт событие
// отключения, но никогда не роняет процесс
type TransportError struct {
	ClientID uuid.UUID
	Reason   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("network: client %s: %v", e.ClientID, e.Reason)
}

func (e *TransportError) Unwrap() error { return e.Reason }

// ErrClientUnknown возвращается при отправке несуществующему клиенту
var ErrClientUnknown = errors.New("network: unknown client")

// ConnectionStats — статистика одного соединения
type ConnectionStats struct {
	PacketsSent     uint64
	PacketsReceived uint64
	BytesSent       uint64
	BytesReceived   uint64
	LastActivity    time.Time
	RemoteAddr      string
}
