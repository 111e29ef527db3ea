package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/matta-server/internal/api"
	"github.com/annel0/matta-server/internal/config"
	"github.com/annel0/matta-server/internal/eventbus"
	"github.com/annel0/matta-server/internal/logging"
	"github.com/annel0/matta-server/internal/metrics"
	"github.com/annel0/matta-server/internal/network"
	"github.com/annel0/matta-server/internal/physics"
	"github.com/annel0/matta-server/internal/replay"
	"github.com/annel0/matta-server/internal/replication"
	"github.com/annel0/matta-server/internal/sim"
	"github.com/annel0/matta-server/internal/snapshot"
	"github.com/annel0/matta-server/internal/world"
)

func main() {
	// Инициализируем систему логирования
	if err := logging.InitDefaultLogger("server"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	logging.Info("🎮 Запуск Matta Server...")

	// === КОНФИГУРАЦИЯ ===
	cfg, err := config.Load("")
	if err != nil {
		logging.Error("❌ Ошибка загрузки конфигурации: %v", err)
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	gamePort := cfg.Server.GetGamePort()
	statusPort := cfg.Server.GetStatusPort()
	logging.Info("📡 Конфигурация: KCP=%d, REST=%d, тик=%d Гц, клиентов максимум %d",
		gamePort, statusPort, cfg.Simulation.GetTickRate(), cfg.Server.GetMaxClients())

	// === ШИНА СОБЫТИЙ ===
	var bus eventbus.EventBus
	if cfg.EventBus.URL != "" {
		jsBus, err := eventbus.NewJetStreamBus(cfg.EventBus.URL, cfg.EventBus.Stream)
		if err != nil {
			logging.Warn("JetStream недоступен (%v), используем in-memory шину", err)
			bus = eventbus.NewMemoryBus(1024)
		} else {
			logging.Info("📬 Шина событий: JetStream %s", cfg.EventBus.URL)
			bus = jsBus
		}
	} else {
		bus = eventbus.NewMemoryBus(1024)
	}
	eventbus.Init(bus)
	if err := eventbus.StartLoggingListener(bus); err != nil {
		logging.Warn("Слушатель событий не запущен: %v", err)
	}

	// === КОМПОНЕНТЫ ===
	mets := metrics.New(nil)

	w := world.NewWorld()
	phys := physics.NewKinematicWorld()
	builder := snapshot.NewBuilder(cfg.Replication.GetBaselineHistory())

	netServer, err := network.NewServer(network.Config{
		BindAddr:         cfg.Server.GetBindAddr(),
		Port:             gamePort,
		MaxClients:       cfg.Server.GetMaxClients(),
		HandshakeTimeout: cfg.Server.HandshakeTimeout(),
		LivenessTimeout:  cfg.Server.LivenessTimeout(),
		RecvBufferSize:   cfg.Server.GetRecvBufferSize(),
		SendBufferSize:   cfg.Server.GetSendBufferSize(),
		Compression:      cfg.Server.Compression,
	}, mets)
	if err != nil {
		logging.Error("❌ Ошибка создания транспорта: %v", err)
		log.Fatalf("❌ Ошибка создания транспорта: %v", err)
	}

	dispatcher := replication.NewDispatcher(&cfg.Replication,
		cfg.Simulation.GetInterestRadius(), w, builder, netServer, mets)

	loop := sim.NewLoop(&cfg.Simulation, w, phys, netServer, dispatcher, builder, mets)
	loop.PopulateWorld(cfg.Simulation.GetWorldSeed())

	// Журнал воспроизведения включается наличием каталога в конфиге
	var journal *replay.Journal
	if cfg.Replay.Path != "" {
		journal, err = replay.Open(cfg.Replay.Path)
		if err != nil {
			logging.Warn("Журнал воспроизведения не открыт: %v", err)
		} else {
			loop.SetJournal(journal, cfg.Replication.GetKeyframeEvery())
			logging.Info("📼 Журнал воспроизведения: %s", cfg.Replay.Path)
		}
	}

	statusServer := api.NewStatusServer(statusPort, func() api.StatusSnapshot {
		stats := netServer.Stats()
		conns := make([]api.ConnectionStatus, 0, len(stats))
		for id, cs := range stats {
			conns = append(conns, api.ConnectionStatus{
				ClientID:        id.String(),
				RemoteAddr:      cs.RemoteAddr,
				PacketsSent:     cs.PacketsSent,
				PacketsReceived: cs.PacketsReceived,
				BytesSent:       cs.BytesSent,
				BytesReceived:   cs.BytesReceived,
				LastActivity:    cs.LastActivity,
			})
		}
		return api.StatusSnapshot{
			State:       loop.State().String(),
			Tick:        loop.CurrentTick(),
			Sessions:    netServer.SessionCount(),
			Entities:    loop.EntityCount(),
			Connections: conns,
		}
	})

	// === ЗАПУСК ===
	if err := netServer.Start(); err != nil {
		logging.Error("❌ Ошибка запуска транспорта: %v", err)
		log.Fatalf("❌ Ошибка запуска транспорта: %v", err)
	}
	statusServer.Start()
	go loop.Run()

	logging.Info("✅ Все сервисы запущены")
	logging.Info("   🎮 Игровой трафик: KCP :%d", gamePort)
	logging.Info("   🌐 Статус и метрики: http://localhost:%d/status", statusPort)
	logging.Info("   ❤️  Health check: http://localhost:%d/health", statusPort)

	// Ждём сигнала ОС
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logging.Info("📡 Получен сигнал %v, завершение работы...", sig)

	// === GRACEFUL SHUTDOWN ===
	// Порядок: сначала симуляция (grace-тики и финальные снапшоты
	// уходят через ещё живой транспорт), затем транспорт и остальное
	loop.Stop()
	netServer.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := statusServer.Stop(shutdownCtx); err != nil {
		logging.Warn("Остановка статусного API: %v", err)
	}

	if journal != nil {
		if err := journal.Close(); err != nil {
			logging.Warn("Закрытие журнала: %v", err)
		}
	}
	if err := bus.Close(); err != nil {
		logging.Warn("Закрытие шины событий: %v", err)
	}

	logging.Info("✅ Сервер остановлен")
}
