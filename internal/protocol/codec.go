package protocol

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/annel0/matta-server/internal/vec"
)

// Формат на проводе: little-endian, float32 как IEEE-754 биты.
// Размер заголовка фиксирован, длина полезной нагрузки берётся из заголовка.

// Encode сериализует сообщение без сжатия
func Encode(tick uint64, msg Message) ([]byte, error) {
	return EncodeWith(tick, msg, nil)
}

// EncodeWith сериализует сообщение, сжимая полезную нагрузку компрессором,
// если он задан и нагрузка достаточно велика, чтобы сжатие окупилось.
func EncodeWith(tick uint64, msg Message, comp *Compressor) ([]byte, error) {
	payload := marshalPayload(msg)
	if len(payload) > MaxPayloadBytes {
		return nil, &FormatError{Type: msg.msgType(), Reason: ErrOversized}
	}

	typeByte := uint8(msg.msgType())
	if comp != nil && len(payload) >= compressThreshold {
		payload = comp.Compress(payload)
		typeByte |= flagCompressed
	}

	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = typeByte
	binary.LittleEndian.PutUint32(buf[1:5], uint32(len(payload)))
	binary.LittleEndian.PutUint64(buf[5:13], tick)
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// Decode разбирает один кадр. Усечённые и превышающие лимит буферы
// отклоняются ошибкой формата, а не паникой. comp может быть nil,
// если сжатые сообщения не ожидаются.
func Decode(data []byte, comp *Compressor) (*Envelope, error) {
	if len(data) < HeaderSize {
		return nil, &FormatError{Reason: ErrTruncated}
	}

	hdr := Header{
		Type:       MsgType(data[0] &^ flagCompressed),
		Length:     binary.LittleEndian.Uint32(data[1:5]),
		Tick:       binary.LittleEndian.Uint64(data[5:13]),
		Compressed: data[0]&flagCompressed != 0,
	}

	if hdr.Length > MaxPayloadBytes {
		return nil, &FormatError{Type: hdr.Type, Reason: ErrOversized}
	}
	if uint32(len(data)-HeaderSize) < hdr.Length {
		return nil, &FormatError{Type: hdr.Type, Reason: ErrTruncated}
	}

	payload := data[HeaderSize : HeaderSize+int(hdr.Length)]
	if hdr.Compressed {
		if comp == nil {
			return nil, &FormatError{Type: hdr.Type, Reason: fmt.Errorf("compressed payload without decompressor")}
		}
		decompressed, err := comp.Decompress(payload)
		if err != nil {
			return nil, &FormatError{Type: hdr.Type, Reason: fmt.Errorf("decompression failed: %w", err)}
		}
		if len(decompressed) > MaxPayloadBytes {
			return nil, &FormatError{Type: hdr.Type, Reason: ErrOversized}
		}
		payload = decompressed
	}

	msg, err := unmarshalPayload(hdr.Type, payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{Header: hdr, Msg: msg}, nil
}

// FrameLength возвращает полную длину кадра по заголовку или ErrTruncated,
// если заголовок ещё не прочитан целиком. Используется транспортом для
// нарезки потока на кадры.
func FrameLength(data []byte) (int, error) {
	if len(data) < HeaderSize {
		return 0, ErrTruncated
	}
	length := binary.LittleEndian.Uint32(data[1:5])
	if length > MaxPayloadBytes {
		return 0, ErrOversized
	}
	return HeaderSize + int(length), nil
}

func marshalPayload(msg Message) []byte {
	w := &writer{}
	switch m := msg.(type) {
	case *Handshake:
		name := m.Name
		if len(name) > 255 {
			name = name[:255]
		}
		w.u8(uint8(len(name)))
		w.bytes([]byte(name))
	case *HandshakeAck:
		w.bytes(m.ClientID[:])
	case *Input:
		w.u32(m.ClientTick)
		w.u16(m.Actions)
		w.vec3(m.Move)
		w.vec2(m.Look)
	case *Ack:
		w.u64(m.Tick)
	case *Disconnect:
		w.u8(m.Reason)
	case *KeyframeSnapshot:
		w.u64(m.Tick)
		w.u16(uint16(len(m.Entities)))
		for i := range m.Entities {
			w.entityState(&m.Entities[i])
		}
	case *DeltaSnapshot:
		w.u64(m.BaseTick)
		w.u64(m.Tick)
		w.u16(uint16(len(m.Changes)))
		for i := range m.Changes {
			w.entityChange(&m.Changes[i])
		}
	}
	return w.buf
}

func unmarshalPayload(t MsgType, payload []byte) (Message, error) {
	r := &reader{buf: payload, msgType: t}
	var msg Message

	switch t {
	case MsgHandshake:
		n := r.u8()
		msg = &Handshake{Name: string(r.take(int(n)))}
	case MsgHandshakeAck:
		m := &HandshakeAck{}
		copy(m.ClientID[:], r.take(16))
		msg = m
	case MsgInput:
		msg = &Input{
			ClientTick: r.u32(),
			Actions:    r.u16(),
			Move:       r.vec3(),
			Look:       r.vec2(),
		}
	case MsgAck:
		msg = &Ack{Tick: r.u64()}
	case MsgDisconnect:
		msg = &Disconnect{Reason: r.u8()}
	case MsgKeyframe:
		m := &KeyframeSnapshot{Tick: r.u64()}
		count := int(r.u16())
		if r.err == nil && count > 0 {
			m.Entities = make([]EntityState, 0, count)
			for i := 0; i < count && r.err == nil; i++ {
				m.Entities = append(m.Entities, r.entityState())
			}
		}
		msg = m
	case MsgDelta:
		m := &DeltaSnapshot{BaseTick: r.u64(), Tick: r.u64()}
		count := int(r.u16())
		if r.err == nil && count > 0 {
			m.Changes = make([]EntityChange, 0, count)
			for i := 0; i < count && r.err == nil; i++ {
				m.Changes = append(m.Changes, r.entityChange())
			}
		}
		msg = m
	default:
		return nil, &FormatError{Type: t, Reason: fmt.Errorf("unknown message type")}
	}

	if r.err != nil {
		return nil, &FormatError{Type: t, Reason: r.err}
	}
	return msg, nil
}

//================ Запись =================//

type writer struct {
	buf []byte
}

func (w *writer) u8(v uint8) { w.buf = append(w.buf, v) }
func (w *writer) u16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}
func (w *writer) u32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}
func (w *writer) u64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}
func (w *writer) f32(v float32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, math.Float32bits(v))
}
func (w *writer) bytes(b []byte) { w.buf = append(w.buf, b...) }

func (w *writer) vec3(v vec.Vec3) {
	w.f32(v.X)
	w.f32(v.Y)
	w.f32(v.Z)
}

func (w *writer) vec2(v vec.Vec2) {
	w.f32(v.X)
	w.f32(v.Y)
}

func (w *writer) entityState(s *EntityState) {
	w.u64(s.ID)
	w.u8(uint8(s.Kind))
	w.vec3(s.Position)
	w.vec2(s.Rotation)
	w.vec3(s.Velocity)
	w.f32(s.Health)
}

func (w *writer) entityChange(c *EntityChange) {
	w.u64(c.ID)
	w.u8(c.Fields)
	if c.Fields&FieldDestroyed != 0 {
		return
	}
	if c.Fields&FieldCreated != 0 {
		w.u8(uint8(c.State.Kind))
	}
	if c.Fields&(FieldCreated|FieldPosition) != 0 {
		w.vec3(c.State.Position)
	}
	if c.Fields&(FieldCreated|FieldRotation) != 0 {
		w.vec2(c.State.Rotation)
	}
	if c.Fields&(FieldCreated|FieldVelocity) != 0 {
		w.vec3(c.State.Velocity)
	}
	if c.Fields&(FieldCreated|FieldHealth) != 0 {
		w.f32(c.State.Health)
	}
}

//================ Чтение =================//

type reader struct {
	buf     []byte
	off     int
	err     error
	msgType MsgType
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.buf) {
		r.err = ErrTruncated
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *reader) f32() float32 {
	return math.Float32frombits(r.u32())
}

func (r *reader) vec3() vec.Vec3 {
	return vec.Vec3{X: r.f32(), Y: r.f32(), Z: r.f32()}
}

func (r *reader) vec2() vec.Vec2 {
	return vec.Vec2{X: r.f32(), Y: r.f32()}
}

func (r *reader) entityState() EntityState {
	return EntityState{
		ID:       r.u64(),
		Kind:     EntityKind(r.u8()),
		Position: r.vec3(),
		Rotation: r.vec2(),
		Velocity: r.vec3(),
		Health:   r.f32(),
	}
}

func (r *reader) entityChange() EntityChange {
	c := EntityChange{ID: r.u64(), Fields: r.u8()}
	if c.Fields&FieldDestroyed != 0 {
		return c
	}
	if c.Fields&FieldCreated != 0 {
		c.State.Kind = EntityKind(r.u8())
	}
	if c.Fields&(FieldCreated|FieldPosition) != 0 {
		c.State.Position = r.vec3()
	}
	if c.Fields&(FieldCreated|FieldRotation) != 0 {
		c.State.Rotation = r.vec2()
	}
	if c.Fields&(FieldCreated|FieldVelocity) != 0 {
		c.State.Velocity = r.vec3()
	}
	if c.Fields&(FieldCreated|FieldHealth) != 0 {
		c.State.Health = r.f32()
	}
	c.State.ID = c.ID
	return c
}
