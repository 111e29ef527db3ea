package network

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	kcp "github.com/xtaci/kcp-go/v5"

	"github.com/annel0/matta-server/internal/logging"
	"github.com/annel0/matta-server/internal/metrics"
	"github.com/annel0/matta-server/internal/protocol"
)

// Предел ошибок формата от одного клиента до принудительного отключения.
// Единичные битые сообщения отбрасываются без разрыва.
const maxFormatErrors = 32

// reliableSendTimeout ограничивает ожидание места в надёжной очереди
const reliableSendTimeout = 2 * time.Second

// Config — параметры транспортного слоя
type Config struct {
	BindAddr         string
	Port             int
	MaxClients       int
	HandshakeTimeout time.Duration
	LivenessTimeout  time.Duration
	RecvBufferSize   int // Ёмкость канала I/O -> симуляция
	SendBufferSize   int // Ёмкость очередей отправки на клиента
	Compression      bool
}

// Server — транспортный слой: слушает KCP-порт, ведёт соединения
// клиентов и переправляет декодированные сообщения в симуляцию.
type Server struct {
	cfg    Config
	logger *logging.Logger
	mets   *metrics.ServerMetrics

	listener *kcp.Listener
	comp     *protocol.Compressor

	mu    sync.RWMutex
	conns map[uuid.UUID]*clientConn

	inbound      chan Inbound
	inboundQuota int32
	events       chan SessionEvent

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer создаёт транспортный слой
func NewServer(cfg Config, mets *metrics.ServerMetrics) (*Server, error) {
	var comp *protocol.Compressor
	if cfg.Compression {
		var err error
		comp, err = protocol.NewCompressor()
		if err != nil {
			return nil, fmt.Errorf("failed to init compressor: %w", err)
		}
	}

	// Квота входящих на клиента: честная доля общего буфера,
	// чтобы флудящий клиент не вытеснял ввод остальных
	quota := int32(16)
	if cfg.MaxClients > 0 {
		if q := int32(cfg.RecvBufferSize / cfg.MaxClients); q > quota {
			quota = q
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:          cfg,
		logger:       logging.GetNetworkLogger(),
		mets:         mets,
		comp:         comp,
		conns:        make(map[uuid.UUID]*clientConn),
		inbound:      make(chan Inbound, cfg.RecvBufferSize),
		inboundQuota: quota,
		events:       make(chan SessionEvent, 256),
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Start открывает слушающий сокет и запускает приём соединений
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.BindAddr, s.cfg.Port)
	listener, err := kcp.ListenWithOptions(addr, nil, 10, 3)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	s.wg.Add(1)
	go s.acceptLoop()

	s.logger.Info("KCP сервер слушает %s (max clients: %d)", addr, s.cfg.MaxClients)
	return nil
}

// Stop закрывает все соединения и слушающий сокет
func (s *Server) Stop() {
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	for _, c := range s.conns {
		c.close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	if s.comp != nil {
		s.comp.Close()
	}
	s.logger.Info("Транспортный слой остановлен")
}

// Inbound возвращает канал декодированных сообщений клиентов
func (s *Server) Inbound() <-chan Inbound { return s.inbound }

// Events возвращает канал событий жизненного цикла сессий
func (s *Server) Events() <-chan SessionEvent { return s.events }

// SessionCount возвращает число активных соединений
func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Stats возвращает статистику всех соединений
func (s *Server) Stats() map[uuid.UUID]ConnectionStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uuid.UUID]ConnectionStats, len(s.conns))
	for id, c := range s.conns {
		out[id] = c.snapshotStats()
	}
	return out
}

// Compressor возвращает общий компрессор отправки (nil, если сжатие выключено)
func (s *Server) Compressor() *protocol.Compressor { return s.comp }

// Send ставит кадр в надёжную очередь клиента (кейфреймы, уведомления).
// Переполнение очереди в пределах таймаута — ошибка транспорта.
func (s *Server) Send(clientID uuid.UUID, frame []byte) error {
	c := s.getConn(clientID)
	if c == nil {
		return ErrClientUnknown
	}
	if err := c.enqueueReliable(frame, reliableSendTimeout); err != nil {
		return &TransportError{ClientID: clientID, Reason: err}
	}
	s.mets.BytesSent.Add(float64(len(frame)))
	return nil
}

// TrySendSnapshot кладёт кадр снапшота, никогда не блокируясь:
// при заполненной очереди самый старый кадр вытесняется свежим.
func (s *Server) TrySendSnapshot(clientID uuid.UUID, frame []byte) (dropped bool, err error) {
	c := s.getConn(clientID)
	if c == nil {
		return false, ErrClientUnknown
	}
	s.mets.BytesSent.Add(float64(len(frame)))
	return c.enqueueSnapshot(frame), nil
}

// Disconnect отключает клиента: best-effort уведомление, затем закрытие.
// Событие SessionDisconnected излучается ровно один раз.
func (s *Server) Disconnect(clientID uuid.UUID, reason uint8) {
	c := s.getConn(clientID)
	if c == nil {
		return
	}

	// Уведомление доставляется по возможности: соединение может быть
	// уже мёртвым
	if frame, err := protocol.Encode(0, &protocol.Disconnect{Reason: reason}); err == nil {
		_ = c.enqueueReliable(frame, 100*time.Millisecond)
	}

	// Даём писателю шанс дослать уведомление
	time.AfterFunc(50*time.Millisecond, func() {
		s.dropConn(c, reason, nil)
	})
}

//================ Внутреннее =================//

func (s *Server) getConn(clientID uuid.UUID) *clientConn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conns[clientID]
}

// acceptLoop принимает новые KCP-сессии и запускает рукопожатие
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.AcceptKCP()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Error("Accept failed: %v", err)
				continue
			}
		}

		s.wg.Add(1)
		go s.handshake(conn)
	}
}

// handshake проводит рукопожатие новой сессии.
// Неуспех означает отсутствие сессии: событий не излучается.
func (s *Server) handshake(conn *kcp.UDPSession) {
	defer s.wg.Done()

	addr := conn.RemoteAddr().String()

	if s.SessionCount() >= s.cfg.MaxClients {
		s.logger.Warn("Отказ %s: достигнут предел клиентов", addr)
		if frame, err := protocol.Encode(0, &protocol.Disconnect{Reason: protocol.DisconnectByServer}); err == nil {
			conn.SetWriteDeadline(time.Now().Add(time.Second))
			conn.Write(frame)
		}
		conn.Close()
		return
	}

	clientID := uuid.New()
	c := newClientConn(clientID, "", conn, s.cfg.SendBufferSize)

	frame, err := c.readFrame(s.cfg.HandshakeTimeout)
	if err != nil {
		s.logger.Warn("%v", &HandshakeError{Addr: addr, Reason: err})
		c.close()
		return
	}

	env, err := protocol.Decode(frame, s.comp)
	if err != nil {
		s.logger.Warn("%v", &HandshakeError{Addr: addr, Reason: err})
		c.close()
		return
	}

	hs, ok := env.Msg.(*protocol.Handshake)
	if !ok {
		s.logger.Warn("%v", &HandshakeError{Addr: addr,
			Reason: fmt.Errorf("expected handshake, got type %d", env.Header.Type)})
		c.close()
		return
	}
	c.name = hs.Name

	ack := &protocol.HandshakeAck{ClientID: clientID}
	ackFrame, err := protocol.Encode(0, ack)
	if err != nil {
		c.close()
		return
	}

	s.mu.Lock()
	s.conns[clientID] = c
	s.mu.Unlock()
	s.mets.ActiveSessions.Inc()

	if err := c.enqueueReliable(ackFrame, reliableSendTimeout); err != nil {
		s.dropConn(c, protocol.DisconnectByServer, err)
		return
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		c.writeLoop(func(err error) {
			s.dropConn(c, protocol.DisconnectByServer, err)
		})
	}()
	go func() {
		defer s.wg.Done()
		s.readLoop(c)
	}()

	s.pushEvent(SessionEvent{Type: SessionConnected, ClientID: clientID, Name: hs.Name})
	s.logger.Info("Клиент %s подключён: addr=%s name=%q", clientID, addr, hs.Name)
}

// readLoop читает и декодирует кадры установленного соединения
func (s *Server) readLoop(c *clientConn) {
	formatErrors := 0

	for {
		select {
		case <-c.closed:
			return
		case <-s.ctx.Done():
			return
		default:
		}

		frame, err := c.readFrame(s.cfg.LivenessTimeout)
		if err != nil {
			if isTimeout(err) {
				// Тишина в окне живости — разрыв
				s.dropConn(c, protocol.DisconnectTimeout, err)
			} else {
				s.dropConn(c, protocol.DisconnectByServer, err)
			}
			return
		}

		env, err := protocol.Decode(frame, s.comp)
		if err != nil {
			// Битое сообщение локально для соединения: дропаем его,
			// отключаем только при систематических повторах
			s.mets.FormatErrors.Inc()
			logging.LogProtocolError(c.id.String(), err, frame)
			formatErrors++
			if formatErrors >= maxFormatErrors {
				s.dropConn(c, protocol.DisconnectProtocol,
					fmt.Errorf("too many format errors: %d", formatErrors))
				return
			}
			continue
		}

		s.mets.BytesReceived.Add(float64(len(frame)))
		s.pushInbound(c, Inbound{ClientID: c.id, Msg: env.Msg, Tick: env.Header.Tick})
	}
}

// pushInbound передаёт сообщение симуляции, не блокируя домен I/O.
// Каждому клиенту отведена квота непотреблённых сообщений: при её
// исчерпании дропаются сообщения именно этого клиента, ввод остальных
// не страдает. Потребитель возвращает место вызовом Inbound.Release.
func (s *Server) pushInbound(c *clientConn, in Inbound) {
	if c.inboundPending.Load() >= s.inboundQuota {
		s.mets.OverflowInputsDropped.Inc()
		return
	}
	c.inboundPending.Add(1)
	in.release = c.releaseInbound

	select {
	case s.inbound <- in:
	default:
		c.releaseInbound()
		s.mets.OverflowInputsDropped.Inc()
	}
}

func (s *Server) pushEvent(ev SessionEvent) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

// dropConn закрывает соединение и излучает событие отключения ровно один раз
func (s *Server) dropConn(c *clientConn, reason uint8, cause error) {
	s.mu.Lock()
	_, known := s.conns[c.id]
	delete(s.conns, c.id)
	s.mu.Unlock()

	c.close()

	if !known {
		return
	}

	s.mets.ActiveSessions.Dec()
	if cause != nil {
		s.logger.Info("Клиент %s отключён: reason=%d cause=%v", c.id, reason, cause)
	} else {
		s.logger.Info("Клиент %s отключён: reason=%d", c.id, reason)
	}
	s.pushEvent(SessionEvent{Type: SessionDisconnected, ClientID: c.id, Reason: reason, Err: cause})
}
