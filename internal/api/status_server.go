// Package api поднимает статусный HTTP-сервер рядом с игровым портом:
// health-check, сводка состояния симуляции и метрики Prometheus.
// Игровой трафик через него не ходит.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/annel0/matta-server/internal/logging"
	"github.com/annel0/matta-server/internal/middleware"
)

// StatusSnapshot — моментальная сводка состояния сервера.
// Значения читаются из потокобезопасных источников и могут
// незначительно отставать от симуляции.
type StatusSnapshot struct {
	State       string             `json:"state"`
	Tick        uint64             `json:"tick"`
	Sessions    int                `json:"sessions"`
	Entities    int                `json:"entities"`
	Connections []ConnectionStatus `json:"connections"`
}

// ConnectionStatus — статистика одного клиентского соединения в сводке
type ConnectionStatus struct {
	ClientID        string    `json:"client_id"`
	RemoteAddr      string    `json:"remote_addr"`
	PacketsSent     uint64    `json:"packets_sent"`
	PacketsReceived uint64    `json:"packets_received"`
	BytesSent       uint64    `json:"bytes_sent"`
	BytesReceived   uint64    `json:"bytes_received"`
	LastActivity    time.Time `json:"last_activity"`
}

// StatusProvider отдаёт текущую сводку; вызывается из HTTP-горутин
type StatusProvider func() StatusSnapshot

// StatusServer — REST-сервер статуса и метрик
type StatusServer struct {
	router   *gin.Engine
	srv      *http.Server
	provider StatusProvider
	sysinfo  *SysInfo
	logger   *logging.Logger
}

// NewStatusServer собирает сервер на указанном порту
func NewStatusServer(port int, provider StatusProvider) *StatusServer {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New() // без стандартного logger/recovery
	router.Use(gin.Recovery())

	loggerMw := middleware.NewRequestLogger()
	router.Use(loggerMw.Handler())

	promMw := middleware.NewPrometheusMiddleware("status_api", nil)
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router)

	ss := &StatusServer{
		router:   router,
		provider: provider,
		sysinfo:  NewSysInfo(),
		logger:   logging.GetComponentLogger("api"),
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
	ss.setupRoutes()
	return ss
}

func (ss *StatusServer) setupRoutes() {
	ss.router.GET("/health", ss.handleHealth)
	ss.router.GET("/status", ss.handleStatus)
}

// Start запускает сервер в фоне
func (ss *StatusServer) Start() {
	go func() {
		ss.logger.Info("🌐 Статусный API слушает %s", ss.srv.Addr)
		if err := ss.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ss.logger.Error("Статусный API: %v", err)
		}
	}()
}

// Stop останавливает сервер, дожидаясь активных запросов
func (ss *StatusServer) Stop(ctx context.Context) error {
	return ss.srv.Shutdown(ctx)
}

func (ss *StatusServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": ss.sysinfo.Uptime(),
	})
}

func (ss *StatusServer) handleStatus(c *gin.Context) {
	snap := ss.provider()

	cpuPercent, err := ss.sysinfo.CPUUsage()
	if err != nil {
		cpuPercent = -1
	}

	c.JSON(http.StatusOK, gin.H{
		"uptime":      ss.sysinfo.Uptime(),
		"state":       snap.State,
		"tick":        snap.Tick,
		"sessions":    snap.Sessions,
		"entities":    snap.Entities,
		"connections": snap.Connections,
		"cpu_percent": cpuPercent,
		"memory_mb":   ss.sysinfo.MemoryUsageMB(),
		"memory":      ss.sysinfo.MemoryStats(),
	})
}
