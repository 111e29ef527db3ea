package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/matta-server/internal/vec"
)

func TestEncodeDecodeInput(t *testing.T) {
	in := &Input{
		ClientTick: 42,
		Actions:    ActionJump | ActionFire,
		Move:       vec.Vec3{X: 1, Y: 0, Z: -0.5},
		Look:       vec.Vec2{X: 1.57, Y: -0.3},
	}

	frame, err := Encode(100, in)
	require.NoError(t, err)
	assert.Equal(t, HeaderSize+4+2+12+8, len(frame), "размер кадра Input фиксирован")

	env, err := Decode(frame, nil)
	require.NoError(t, err)
	assert.Equal(t, MsgInput, env.Header.Type)
	assert.Equal(t, uint64(100), env.Header.Tick)
	assert.False(t, env.Header.Compressed)

	got, ok := env.Msg.(*Input)
	require.True(t, ok)
	assert.Equal(t, in, got)
}

func TestEncodeDecodeHandshake(t *testing.T) {
	frame, err := Encode(0, &Handshake{Name: "Мария"})
	require.NoError(t, err)

	env, err := Decode(frame, nil)
	require.NoError(t, err)
	got := env.Msg.(*Handshake)
	assert.Equal(t, "Мария", got.Name)
}

func TestEncodeDecodeHandshakeAck(t *testing.T) {
	ack := &HandshakeAck{}
	for i := range ack.ClientID {
		ack.ClientID[i] = byte(i)
	}

	frame, err := Encode(0, ack)
	require.NoError(t, err)

	env, err := Decode(frame, nil)
	require.NoError(t, err)
	assert.Equal(t, ack.ClientID, env.Msg.(*HandshakeAck).ClientID)
}

func TestEncodeDecodeKeyframe(t *testing.T) {
	kf := &KeyframeSnapshot{
		Tick: 500,
		Entities: []EntityState{
			{ID: 1, Kind: KindPlayer, Position: vec.Vec3{X: 1, Y: 2, Z: 3}, Health: 100},
			{ID: 1001, Kind: KindProp, Position: vec.Vec3{X: -8, Y: 0.5, Z: 16}, Health: 50},
		},
	}

	frame, err := Encode(500, kf)
	require.NoError(t, err)

	env, err := Decode(frame, nil)
	require.NoError(t, err)
	got := env.Msg.(*KeyframeSnapshot)
	assert.Equal(t, kf.Tick, got.Tick)
	assert.Equal(t, kf.Entities, got.Entities)
}

func TestEncodeDecodeDelta(t *testing.T) {
	delta := &DeltaSnapshot{
		BaseTick: 90,
		Tick:     95,
		Changes: []EntityChange{
			{ID: 1, Fields: FieldPosition | FieldHealth,
				State: EntityState{ID: 1, Position: vec.Vec3{X: 5, Y: 1, Z: 0}, Health: 75}},
			{ID: 2, Fields: FieldCreated,
				State: EntityState{ID: 2, Kind: KindProjectile, Position: vec.Vec3{X: 1, Y: 1, Z: 1}, Velocity: vec.Vec3{Z: 30}, Health: 1}},
			{ID: 3, Fields: FieldDestroyed},
		},
	}

	frame, err := Encode(95, delta)
	require.NoError(t, err)

	env, err := Decode(frame, nil)
	require.NoError(t, err)
	got := env.Msg.(*DeltaSnapshot)
	assert.Equal(t, delta.BaseTick, got.BaseTick)
	require.Len(t, got.Changes, 3)

	// Бит Position: передаются только позиция и здоровье
	assert.Equal(t, delta.Changes[0].State.Position, got.Changes[0].State.Position)
	assert.Equal(t, delta.Changes[0].State.Health, got.Changes[0].State.Health)

	// Бит Created: полное состояние, включая вид
	assert.Equal(t, KindProjectile, got.Changes[1].State.Kind)
	assert.Equal(t, delta.Changes[1].State.Velocity, got.Changes[1].State.Velocity)

	// Бит Destroyed: никаких полей не следует
	assert.Equal(t, FieldDestroyed, got.Changes[2].Fields)
}

func TestDecodeTruncatedHeader(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3}, nil)
	require.Error(t, err)
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestDecodeTruncatedPayload(t *testing.T) {
	frame, err := Encode(7, &Ack{Tick: 7})
	require.NoError(t, err)

	// Обрезаем часть полезной нагрузки
	_, err = Decode(frame[:len(frame)-3], nil)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestDecodeOversizedLength(t *testing.T) {
	frame, err := Encode(0, &Ack{Tick: 1})
	require.NoError(t, err)

	// Подделываем длину в заголовке
	frame[1] = 0xFF
	frame[2] = 0xFF
	frame[3] = 0xFF
	frame[4] = 0x7F

	_, err = Decode(frame, nil)
	assert.ErrorIs(t, err, ErrOversized)
}

func TestDecodeUnknownType(t *testing.T) {
	frame, err := Encode(0, &Ack{Tick: 1})
	require.NoError(t, err)
	frame[0] = 99

	_, err = Decode(frame, nil)
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, MsgType(99), fe.Type)
}

func TestDecodeGarbageNeverPanics(t *testing.T) {
	// Кодек обязан отклонять мусор ошибкой, а не паникой
	payloads := [][]byte{
		{},
		{0xFF},
		make([]byte, HeaderSize),
		{2, 4, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 0xDE, 0xAD, 0xBE, 0xEF},
	}
	for _, p := range payloads {
		assert.NotPanics(t, func() {
			_, _ = Decode(p, nil)
		})
	}
}

func TestFrameLength(t *testing.T) {
	frame, err := Encode(3, &Disconnect{Reason: DisconnectShutdown})
	require.NoError(t, err)

	n, err := FrameLength(frame)
	require.NoError(t, err)
	assert.Equal(t, len(frame), n)

	_, err = FrameLength(frame[:HeaderSize-1])
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestCompressionRoundTrip(t *testing.T) {
	comp, err := NewCompressor()
	require.NoError(t, err)
	defer comp.Close()

	// Достаточно большой снапшот, чтобы сработал порог сжатия
	kf := &KeyframeSnapshot{Tick: 1}
	for i := uint64(0); i < 100; i++ {
		kf.Entities = append(kf.Entities, EntityState{ID: i, Kind: KindProp, Health: 50})
	}

	frame, err := EncodeWith(1, kf, comp)
	require.NoError(t, err)
	assert.True(t, frame[0]&0x80 != 0, "старший бит типа должен означать сжатие")

	env, err := Decode(frame, comp)
	require.NoError(t, err)
	assert.True(t, env.Header.Compressed)
	assert.Equal(t, kf.Entities, env.Msg.(*KeyframeSnapshot).Entities)
}

func TestCompressedWithoutDecompressor(t *testing.T) {
	comp, err := NewCompressor()
	require.NoError(t, err)
	defer comp.Close()

	kf := &KeyframeSnapshot{Tick: 1}
	for i := uint64(0); i < 100; i++ {
		kf.Entities = append(kf.Entities, EntityState{ID: i})
	}

	frame, err := EncodeWith(1, kf, comp)
	require.NoError(t, err)

	_, err = Decode(frame, nil)
	require.Error(t, err)
}

func TestSmallPayloadNotCompressed(t *testing.T) {
	comp, err := NewCompressor()
	require.NoError(t, err)
	defer comp.Close()

	frame, err := EncodeWith(1, &Ack{Tick: 1}, comp)
	require.NoError(t, err)
	assert.Zero(t, frame[0]&0x80, "маленькие сообщения не сжимаются")
}
