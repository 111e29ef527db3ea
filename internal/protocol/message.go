// Package protocol реализует бинарный протокол обмена с клиентами.
// Кодек не имеет состояния и ничего не знает об игровой логике —
// только о форме сообщений.
package protocol

import (
	"errors"
	"fmt"

	"github.com/annel0/matta-server/internal/vec"
)

// MsgType определяет тип сообщения в заголовке
type MsgType uint8

const (
	MsgUnknown MsgType = 0

	// Клиент -> Сервер
	MsgHandshake MsgType = 1 // Первое сообщение новой сессии
	MsgInput     MsgType = 2 // Команда ввода
	MsgAck       MsgType = 3 // Подтверждение полученного тика

	// Сервер -> Клиент
	MsgHandshakeAck MsgType = 10 // Ответ на handshake с выданным ClientId
	MsgKeyframe     MsgType = 11 // Полный снапшот мира
	MsgDelta        MsgType = 12 // Дельта относительно подтверждённого тика
	MsgDisconnect   MsgType = 13 // Уведомление об отключении
)

// flagCompressed ставится в старший бит байта типа, когда полезная
// нагрузка сжата zstd. Заголовок при этом остаётся фиксированных 13 байт.
const flagCompressed uint8 = 0x80

// HeaderSize — размер фиксированного заголовка:
// u8 тип + u32 длина полезной нагрузки + u64 тик.
const HeaderSize = 1 + 4 + 8

// MaxPayloadBytes ограничивает размер полезной нагрузки одного сообщения.
const MaxPayloadBytes = 64 << 10

// Ошибки формата. Кодек никогда не паникует на внешних данных.
var (
	ErrTruncated = errors.New("protocol: truncated buffer")
	ErrOversized = errors.New("protocol: oversized payload")
)

// FormatError описывает ошибку разбора входного буфера
type FormatError struct {
	Type   MsgType // Тип из заголовка, если его удалось прочитать
	Reason error   // ErrTruncated, ErrOversized или описание поля
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("protocol: malformed message type=%d: %v", e.Type, e.Reason)
}

func (e *FormatError) Unwrap() error { return e.Reason }

// Header — фиксированный заголовок каждого сообщения
type Header struct {
	Type       MsgType
	Length     uint32 // Длина полезной нагрузки в байтах (на проводе)
	Tick       uint64 // Текущий тик отправителя
	Compressed bool
}

// Message — общий интерфейс полезных нагрузок
type Message interface {
	msgType() MsgType
}

// Handshake — первое сообщение клиента, содержит имя игрока
type Handshake struct {
	Name string
}

// HandshakeAck — ответ сервера: выданный идентификатор клиента (16 байт UUID)
type HandshakeAck struct {
	ClientID [16]byte
}

// Input — команда ввода, неизменяемая после получения.
// ClientTick задаёт порядок команд внутри одного клиента.
type Input struct {
	ClientTick uint32
	Actions    uint16 // Битовая маска действий (см. Action*)
	Move       vec.Vec3
	Look       vec.Vec2
}

// Битовая маска действий в Input.Actions
const (
	ActionJump uint16 = 1 << 0
	ActionFire uint16 = 1 << 1
)

// Ack — подтверждение клиентом полученного снапшота
type Ack struct {
	Tick uint64
}

// Disconnect — уведомление об отключении
type Disconnect struct {
	Reason uint8
}

// Причины отключения
const (
	DisconnectByServer uint8 = 0
	DisconnectTimeout  uint8 = 1
	DisconnectShutdown uint8 = 2
	DisconnectProtocol uint8 = 3
)

// EntityKind — закрытый набор видов сущностей
type EntityKind uint8

const (
	KindPlayer EntityKind = iota
	KindProjectile
	KindProp
)

// EntityState — полное реплицируемое состояние одной сущности
type EntityState struct {
	ID       uint64
	Kind     EntityKind
	Position vec.Vec3
	Rotation vec.Vec2 // yaw, pitch
	Velocity vec.Vec3
	Health   float32
}

// KeyframeSnapshot — полный снапшот, пригодный как новая база для дельт
type KeyframeSnapshot struct {
	Tick     uint64
	Entities []EntityState
}

// Битовая маска изменённых полей в EntityChange
const (
	FieldPosition uint8 = 1 << 0
	FieldRotation uint8 = 1 << 1
	FieldVelocity uint8 = 1 << 2
	FieldHealth   uint8 = 1 << 3

	// FieldCreated означает, что сущность появилась после базового тика;
	// за маской следует полное состояние (включая Kind).
	FieldCreated uint8 = 1 << 6
	// FieldDestroyed означает, что сущность удалена; полей не следует.
	FieldDestroyed uint8 = 1 << 7
)

// EntityChange — изменение одной сущности относительно базового тика.
// Поля присутствуют на проводе только если выставлен соответствующий бит.
type EntityChange struct {
	ID     uint64
	Fields uint8
	State  EntityState // Заполнены только поля, отмеченные в Fields
}

// DeltaSnapshot — изменения относительно подтверждённого клиентом тика
type DeltaSnapshot struct {
	BaseTick uint64
	Tick     uint64
	Changes  []EntityChange
}

func (*Handshake) msgType() MsgType        { return MsgHandshake }
func (*HandshakeAck) msgType() MsgType     { return MsgHandshakeAck }
func (*Input) msgType() MsgType            { return MsgInput }
func (*Ack) msgType() MsgType              { return MsgAck }
func (*Disconnect) msgType() MsgType       { return MsgDisconnect }
func (*KeyframeSnapshot) msgType() MsgType { return MsgKeyframe }
func (*DeltaSnapshot) msgType() MsgType    { return MsgDelta }

// Envelope — результат декодирования: заголовок плюс типизированное сообщение
type Envelope struct {
	Header Header
	Msg    Message
}
