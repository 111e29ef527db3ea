package eventbus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

var globalBus EventBus

// Init устанавливает глобальную шину
func Init(bus EventBus) { globalBus = bus }

// Publish отправляет событие в глобальную шину, если она инициализирована
func Publish(ctx context.Context, ev *Envelope) error {
	if globalBus == nil {
		return nil
	}
	return globalBus.Publish(ctx, ev)
}

// NewEnvelope заполняет служебные поля события
func NewEnvelope(source, eventType string, tick uint64, payload []byte) *Envelope {
	return &Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    source,
		EventType: eventType,
		Tick:      tick,
		Priority:  3,
		Payload:   payload,
	}
}
