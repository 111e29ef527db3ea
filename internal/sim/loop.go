// Package sim реализует авторитативную симуляцию с фиксированным шагом.
// Вся игровая логика выполняется на единственной горутине цикла;
// обмен с доменом I/O идёт исключительно через каналы транспорта.
package sim

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/matta-server/internal/config"
	"github.com/annel0/matta-server/internal/eventbus"
	"github.com/annel0/matta-server/internal/logging"
	"github.com/annel0/matta-server/internal/metrics"
	"github.com/annel0/matta-server/internal/network"
	"github.com/annel0/matta-server/internal/physics"
	"github.com/annel0/matta-server/internal/protocol"
	"github.com/annel0/matta-server/internal/session"
	"github.com/annel0/matta-server/internal/snapshot"
	"github.com/annel0/matta-server/internal/vec"
	"github.com/annel0/matta-server/internal/world"
)

// Transport — срез транспортного слоя, нужный симуляции
type Transport interface {
	Inbound() <-chan network.Inbound
	Events() <-chan network.SessionEvent
	Disconnect(clientID uuid.UUID, reason uint8)
}

// Replicator рассылает снапшоты после завершения тика
type Replicator interface {
	Dispatch(tick uint64, sessions []*session.Session)
}

// Journal принимает кейфреймы мира для журнала воспроизведения
type Journal interface {
	Append(tick uint64, frame []byte) error
}

// Полуразмеры коллайдера игрока
var playerHalf = vec.Vec3{X: 0.4, Y: 0.9, Z: 0.4}

// Loop — цикл симуляции. Владеет миром, физикой и сессиями;
// ни одна из этих структур не видна другим горутинам.
type Loop struct {
	cfg    *config.SimulationConfig
	logger *logging.Logger
	mets   *metrics.ServerMetrics

	world        *world.World
	phys         physics.World
	sessions     *session.Manager
	builder      *snapshot.Builder
	transport    Transport
	repl         Replicator
	journal      Journal // nil — журнал выключен
	journalEvery uint64

	dt           float32 // Длительность тика в секундах
	tickInterval time.Duration
	inputCap     int

	stopCh  chan struct{}
	doneCh  chan struct{}
	stopped bool

	fsm loopFSM

	// Значения для внешнего наблюдения (статусный API)
	observedTick     atomic.Uint64
	observedEntities atomic.Int64
}

// NewLoop собирает цикл симуляции
func NewLoop(cfg *config.SimulationConfig, w *world.World, phys physics.World,
	transport Transport, repl Replicator, builder *snapshot.Builder,
	mets *metrics.ServerMetrics) *Loop {

	interval := cfg.TickInterval()
	return &Loop{
		cfg:          cfg,
		logger:       logging.GetSimLogger(),
		mets:         mets,
		world:        w,
		phys:         phys,
		sessions:     session.NewManager(),
		builder:      builder,
		transport:    transport,
		repl:         repl,
		dt:           float32(interval.Seconds()),
		tickInterval: interval,
		inputCap:     cfg.GetInputQueueCap(),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// SetJournal подключает журнал воспроизведения: каждые every тиков
// в него пишется полный кейфрейм мира
func (l *Loop) SetJournal(j Journal, every uint64) {
	l.journal = j
	l.journalEvery = every
}

// Run крутит цикл с фиксированным шагом до вызова Stop.
// Накопитель реального времени определяет, сколько тиков должно
// быть выполнено; за кадр выполняется не больше catchUpLimit тиков,
// излишек отбрасывается (защита от лавины догоняющих тиков).
func (l *Loop) Run() {
	defer close(l.doneCh)

	l.fsm.Transition(StateTicking)
	l.logger.Info("🕹️ Симуляция запущена: %d Гц (dt=%v)", l.cfg.GetTickRate(), l.tickInterval)

	catchUpLimit := l.cfg.GetCatchUpLimit()
	last := time.Now()
	var accumulator time.Duration

	for {
		select {
		case <-l.stopCh:
			l.shutdown()
			return
		default:
		}

		now := time.Now()
		accumulator += now.Sub(last)
		last = now

		l.drainNetwork()

		executed := 0
		for accumulator >= l.tickInterval && executed < catchUpLimit {
			l.runTick()
			accumulator -= l.tickInterval
			executed++
		}

		if accumulator >= l.tickInterval {
			// Предел догоняющих тиков: остаток долга сбрасывается,
			// симуляция замедляется вместо лавины тиков
			skipped := accumulator / l.tickInterval
			accumulator %= l.tickInterval
			l.mets.CatchUpFrames.Inc()
			l.logger.Warn("Отставание симуляции: сброшено %d тиков долга", skipped)
		}

		if sleep := l.tickInterval - accumulator; sleep > 0 {
			select {
			case <-l.stopCh:
			case <-time.After(sleep):
			}
		}
	}
}

// Stop запрашивает останов. Цикл выполняет заключительные grace-тики,
// рассылает финальные снапшоты и уведомления, затем завершает Run.
func (l *Loop) Stop() {
	if !l.stopped {
		l.stopped = true
		close(l.stopCh)
	}
	<-l.doneCh
}

// CurrentTick возвращает последний завершённый тик.
// Безопасно из любой горутины; значение может отставать.
func (l *Loop) CurrentTick() uint64 { return l.observedTick.Load() }

// EntityCount возвращает число сущностей мира на последнем тике.
// Безопасно из любой горутины.
func (l *Loop) EntityCount() int { return int(l.observedEntities.Load()) }

// State возвращает состояние жизненного цикла. Безопасно из любой горутины.
func (l *Loop) State() LoopState { return l.fsm.Current() }

//================ Жизненный цикл =================//

func (l *Loop) shutdown() {
	l.fsm.Transition(StateShuttingDown)
	grace := l.cfg.GetGraceTicks()
	l.logger.Info("⏳ Останов: выполняем %d заключительных тиков", grace)

	for i := 0; i < grace; i++ {
		l.drainNetwork()
		l.runTick()
	}

	for _, s := range l.sessions.Ordered() {
		l.transport.Disconnect(s.ID, protocol.DisconnectShutdown)
	}

	ev := eventbus.NewEnvelope("sim", eventbus.EventServerShutdown, l.world.Tick(), nil)
	ev.Priority = 9
	_ = eventbus.Publish(context.Background(), ev)

	l.fsm.Transition(StateStopped)
	l.logger.Info("✅ Симуляция остановлена на тике %d", l.world.Tick())
}

// drainNetwork вычитывает всё накопленное транспортом, не блокируясь
func (l *Loop) drainNetwork() {
	for {
		select {
		case ev := <-l.transport.Events():
			l.handleSessionEvent(ev)
		case in := <-l.transport.Inbound():
			l.handleInbound(in)
		default:
			return
		}
	}
}

func (l *Loop) handleSessionEvent(ev network.SessionEvent) {
	switch ev.Type {
	case network.SessionConnected:
		s := l.sessions.Add(ev.ClientID, ev.Name, l.inputCap)
		avatar := l.world.Spawn(protocol.KindPlayer, spawnPoint)
		avatar.BodyHandle = l.phys.CreateBody(spawnPoint, playerHalf)
		s.EntityID = avatar.ID
		s.NeedKeyframe = true
		l.logger.Info("🎮 Сессия %s (%q): сущность %d", ev.ClientID, ev.Name, avatar.ID)

		bev := eventbus.NewEnvelope("sim", eventbus.EventSessionConnected, l.world.Tick(), []byte(ev.Name))
		bev.Metadata = map[string]string{"client_id": ev.ClientID.String()}
		_ = eventbus.Publish(context.Background(), bev)

	case network.SessionDisconnected:
		s := l.sessions.Remove(ev.ClientID)
		if s == nil {
			return
		}
		if e := l.world.Get(s.EntityID); e != nil {
			if e.BodyHandle != 0 {
				l.phys.RemoveBody(e.BodyHandle)
			}
			e.MarkDestroyed()
		}
		l.logger.Info("👋 Сессия %s закрыта (reason=%d)", ev.ClientID, ev.Reason)

		bev := eventbus.NewEnvelope("sim", eventbus.EventSessionDisconnected, l.world.Tick(), nil)
		bev.Metadata = map[string]string{"client_id": ev.ClientID.String()}
		_ = eventbus.Publish(context.Background(), bev)
	}
}

func (l *Loop) handleInbound(in network.Inbound) {
	defer in.Release()

	s := l.sessions.Get(in.ClientID)
	if s == nil {
		return
	}

	switch msg := in.Msg.(type) {
	case *protocol.Input:
		staleBefore, overflowBefore := s.Inputs.StaleDropped(), s.Inputs.OverflowDropped()
		s.Inputs.Push(*msg)
		if d := s.Inputs.StaleDropped() - staleBefore; d > 0 {
			l.mets.StaleInputsDropped.Add(float64(d))
		}
		if d := s.Inputs.OverflowDropped() - overflowBefore; d > 0 {
			l.mets.OverflowInputsDropped.Add(float64(d))
		}

	case *protocol.Ack:
		// Подтверждается тик из тела Ack; тик заголовка — часы клиента
		s.Acknowledge(msg.Tick)

	case *protocol.Disconnect:
		s.Disconnecting = true
		l.transport.Disconnect(in.ClientID, protocol.DisconnectByServer)

	default:
		// Сообщения вне контракта установленной сессии игнорируются
		l.logger.Debug("Неожиданное сообщение от %s", in.ClientID)
	}
}

//================ Тик =================//

// runTick выполняет один тик симуляции: ввод, физика, игровая логика,
// очистка, запись снапшота, репликация. Порядок фаз фиксирован.
func (l *Loop) runTick() {
	started := time.Now()
	tick := l.world.Tick() + 1

	l.applyInputs(tick)
	l.stepPhysics(tick)
	l.stepGameLogic(tick)
	l.reapDestroyed()

	l.world.AdvanceTick()
	l.builder.Record(tick, l.world.States())
	l.journalTick(tick)

	l.repl.Dispatch(tick, l.sessions.Ordered())

	l.observedTick.Store(tick)
	l.observedEntities.Store(int64(l.world.Len()))

	l.mets.TicksTotal.Inc()
	l.mets.TickDuration.Observe(time.Since(started).Seconds())
}

// applyInputs переносит созревшие команды из буферов сессий в намерения
// сущностей. Сессии обходятся в порядке подключения, команды — в порядке
// клиентских тиков: результат не зависит от порядка прибытия пакетов.
func (l *Loop) applyInputs(tick uint64) {
	lookahead := l.cfg.GetMaxLookahead()

	for _, s := range l.sessions.Ordered() {
		if s.Disconnecting {
			continue
		}
		e := l.world.Get(s.EntityID)
		if e == nil {
			continue
		}
		cmds := s.Inputs.DrainDue(tick, lookahead)
		for _, cmd := range cmds {
			applyInput(e, cmd)
		}
		if n := len(cmds); n > 0 {
			l.mets.InputsApplied.Add(float64(n))
		}
	}
}

// stepPhysics передаёт намерения в физический мир и выполняет шаг.
// Ошибка физики делает тик деградированным: весь шаг пропускается,
// позиции остаются от предыдущего тика. Симуляция продолжается.
func (l *Loop) stepPhysics(tick uint64) {
	for _, id := range l.world.OrderedIDs() {
		e := l.world.Get(id)
		if e == nil || e.BodyHandle == 0 {
			continue
		}
		l.phys.SetVelocity(e.BodyHandle, intendedVelocity(e))
		if e.PendingJump {
			e.PendingJump = false
			if e.Grounded {
				l.phys.Jump(e.BodyHandle, jumpSpeed)
			}
		}
		e.IntendedMove = vec.Vec3{}
	}

	if err := l.phys.Step(l.dt); err != nil {
		l.mets.DegradedTicks.Inc()
		l.logger.Warn("Деградированный тик %d: %v", tick, err)

		ev := eventbus.NewEnvelope("sim", eventbus.EventDegradedTick, tick, []byte(err.Error()))
		ev.Priority = 7
		_ = eventbus.Publish(context.Background(), ev)
		return
	}

	for _, id := range l.world.OrderedIDs() {
		e := l.world.Get(id)
		if e == nil || e.BodyHandle == 0 {
			continue
		}
		if body, ok := l.phys.Body(e.BodyHandle); ok {
			e.Position = body.Position
			e.Velocity = body.Velocity
			e.Grounded = body.Grounded
		}
	}
}

// stepGameLogic выполняет игровые правила в порядке возрастания ID.
// Паника логики одной сущности изолируется: сущность уничтожается,
// остальные обрабатываются дальше.
func (l *Loop) stepGameLogic(tick uint64) {
	for _, id := range l.world.OrderedIDs() {
		e := l.world.Get(id)
		if e == nil || e.Destroyed() {
			continue
		}
		l.stepEntitySafe(e, tick)
	}
}

func (l *Loop) stepEntitySafe(e *world.Entity, tick uint64) {
	defer func() {
		if r := recover(); r != nil {
			simErr := &SimulationError{EntityID: e.ID, Tick: tick, Cause: r}
			l.mets.EntityErrors.Inc()
			l.logger.Error("%v", simErr)
			e.MarkDestroyed()
		}
	}()
	l.stepEntity(e, tick)
}

// reapDestroyed удаляет помеченные сущности в конце тика.
// Физические тела освобождаются до удаления из мира.
func (l *Loop) reapDestroyed() {
	for _, id := range l.world.OrderedIDs() {
		e := l.world.Get(id)
		if e != nil && e.Destroyed() && e.BodyHandle != 0 {
			l.phys.RemoveBody(e.BodyHandle)
		}
	}
	l.world.CollectDestroyed()
}

// journalTick пишет полный кейфрейм мира в журнал воспроизведения
func (l *Loop) journalTick(tick uint64) {
	if l.journal == nil || l.journalEvery == 0 || tick%l.journalEvery != 0 {
		return
	}
	kf := l.builder.BuildKeyframe(tick, nil)
	if kf == nil {
		return
	}
	frame, err := protocol.Encode(tick, kf)
	if err != nil {
		l.logger.Error("Кодирование кейфрейма журнала: %v", err)
		return
	}
	if err := l.journal.Append(tick, frame); err != nil {
		l.logger.Error("Запись в журнал воспроизведения: %v", err)
	}
}
