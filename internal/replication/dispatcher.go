// Package replication рассылает снапшоты мира клиентам.
// Диспетчер вызывается циклом симуляции после каждого тика и работает
// на его горутине: состояние мира читается без блокировок, а отправка
// идёт только через неблокирующие очереди транспорта.
package replication

import (
	"github.com/google/uuid"

	"github.com/annel0/matta-server/internal/config"
	"github.com/annel0/matta-server/internal/logging"
	"github.com/annel0/matta-server/internal/metrics"
	"github.com/annel0/matta-server/internal/protocol"
	"github.com/annel0/matta-server/internal/session"
	"github.com/annel0/matta-server/internal/snapshot"
	"github.com/annel0/matta-server/internal/world"
)

// Transport — срез транспортного слоя, нужный репликации
type Transport interface {
	// Send ставит кадр в надёжную очередь (кейфреймы)
	Send(clientID uuid.UUID, frame []byte) error

	// TrySendSnapshot кладёт кадр без блокировки; устаревший кадр
	// в очереди вытесняется
	TrySendSnapshot(clientID uuid.UUID, frame []byte) (dropped bool, err error)

	// Disconnect разрывает соединение клиента
	Disconnect(clientID uuid.UUID, reason uint8)

	// Compressor возвращает общий компрессор (nil — сжатие выключено)
	Compressor() *protocol.Compressor
}

// Dispatcher решает для каждой сессии, что отправить после тика:
// дельту от подтверждённой базы, кейфрейм или ничего.
type Dispatcher struct {
	cfg    *config.ReplicationConfig
	logger *logging.Logger
	mets   *metrics.ServerMetrics

	world     *world.World
	builder   *snapshot.Builder
	transport Transport

	interestRadius float32
	snapshotEvery  uint64
	keyframeEvery  uint64
}

// NewDispatcher собирает диспетчер репликации
func NewDispatcher(cfg *config.ReplicationConfig, interestRadius float32,
	w *world.World, builder *snapshot.Builder, transport Transport,
	mets *metrics.ServerMetrics) *Dispatcher {

	return &Dispatcher{
		cfg:            cfg,
		logger:         logging.GetReplicationLogger(),
		mets:           mets,
		world:          w,
		builder:        builder,
		transport:      transport,
		interestRadius: interestRadius,
		snapshotEvery:  cfg.GetSnapshotEvery(),
		keyframeEvery:  cfg.GetKeyframeEvery(),
	}
}

// Dispatch рассылает снапшоты тика всем сессиям в порядке подключения
func (d *Dispatcher) Dispatch(tick uint64, sessions []*session.Session) {
	if tick%d.snapshotEvery != 0 {
		return
	}

	for _, s := range sessions {
		if s.Disconnecting {
			continue
		}
		d.dispatchOne(tick, s)
	}
}

// dispatchOne отправляет одной сессии дельту или кейфрейм.
// Кейфрейм уходит, когда дельта невозможна (нет подтверждённой базы,
// база вытеснена из истории) или истёк интервал принудительных
// кейфреймов.
func (d *Dispatcher) dispatchOne(tick uint64, s *session.Session) {
	interest := d.interestFor(s)
	s.Interest = interest

	baseTick, haveBase := s.LastAcked()
	forceKeyframe := s.NeedKeyframe ||
		!haveBase ||
		(d.keyframeEvery > 0 && tick%d.keyframeEvery == 0)

	if !forceKeyframe {
		if delta := d.builder.BuildDelta(baseTick, tick, s.BaseView, interest); delta != nil {
			d.sendDelta(tick, s, delta)
			return
		}
		// База вытеснена из истории: дельта невозможна
		d.logger.Debug("База %d клиента %s вытеснена, переход на кейфрейм", baseTick, s.ID)
	}

	d.sendKeyframe(tick, s)
}

func (d *Dispatcher) sendDelta(tick uint64, s *session.Session, delta *protocol.DeltaSnapshot) {
	frame, err := protocol.EncodeWith(tick, delta, d.transport.Compressor())
	if err != nil {
		d.logger.Error("Кодирование дельты для %s: %v", s.ID, err)
		return
	}

	dropped, err := d.transport.TrySendSnapshot(s.ID, frame)
	if err != nil {
		d.sendFailed(s, err)
		return
	}
	if dropped {
		d.mets.SnapshotsDropped.Inc()
	}

	s.LastSnapshotTick = tick
	s.RecordView(tick, s.Interest)
	d.mets.SnapshotsSent.WithLabelValues("delta").Inc()
	d.mets.SnapshotBytes.Add(float64(len(frame)))
}

// sendKeyframe отправляет полный снапшот надёжно: кейфрейм — новая
// база клиента и потеряться не должен.
func (d *Dispatcher) sendKeyframe(tick uint64, s *session.Session) {
	kf := d.builder.BuildKeyframe(tick, s.Interest)
	if kf == nil {
		return
	}

	frame, err := protocol.EncodeWith(tick, kf, d.transport.Compressor())
	if err != nil {
		d.logger.Error("Кодирование кейфрейма для %s: %v", s.ID, err)
		return
	}

	if err := d.transport.Send(s.ID, frame); err != nil {
		d.sendFailed(s, err)
		return
	}

	s.LastSnapshotTick = tick
	s.NeedKeyframe = false
	s.RecordView(tick, s.Interest)
	d.mets.SnapshotsSent.WithLabelValues("keyframe").Inc()
	d.mets.SnapshotBytes.Add(float64(len(frame)))
}

// sendFailed помечает сессию на разрыв; повторные отправки ей не идут
func (d *Dispatcher) sendFailed(s *session.Session, err error) {
	s.Disconnecting = true
	d.mets.SendFailures.Inc()
	d.logger.Warn("Отправка клиенту %s не удалась: %v", s.ID, err)
	d.transport.Disconnect(s.ID, protocol.DisconnectByServer)
}

// interestFor возвращает набор сущностей в радиусе интереса клиента.
// Собственный аватар включается всегда.
func (d *Dispatcher) interestFor(s *session.Session) map[uint64]struct{} {
	avatar := d.world.Get(s.EntityID)
	if avatar == nil {
		return map[uint64]struct{}{}
	}
	interest := d.world.InterestSet(avatar.Position, d.interestRadius)
	interest[s.EntityID] = struct{}{}
	return interest
}
