// Package metrics регистрирует Prometheus-метрики сервера.
// Счётчики обновляются из циклов симуляции и транспорта, эндпоинт
// /metrics отдаётся статусным REST-сервером.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ServerMetrics — счётчики и гистограммы подсистем сервера
type ServerMetrics struct {
	// Симуляция
	TicksTotal    prometheus.Counter
	TickDuration  prometheus.Histogram
	DegradedTicks prometheus.Counter
	EntityErrors  prometheus.Counter
	CatchUpFrames prometheus.Counter

	// Ввод
	StaleInputsDropped    prometheus.Counter
	OverflowInputsDropped prometheus.Counter
	InputsApplied         prometheus.Counter

	// Транспорт
	ActiveSessions prometheus.Gauge
	BytesSent      prometheus.Counter
	BytesReceived  prometheus.Counter
	FormatErrors   prometheus.Counter

	// Репликация
	SnapshotsSent    *prometheus.CounterVec // kind: keyframe|delta
	SnapshotsDropped prometheus.Counter     // Вытеснены более свежим состоянием
	SendFailures     prometheus.Counter
	SnapshotBytes    prometheus.Counter
}

// New создаёт и регистрирует метрики.
// reg == nil означает регистрацию в глобальном регистре Prometheus.
func New(reg prometheus.Registerer) *ServerMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &ServerMetrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sim",
			Name:      "ticks_total",
			Help:      "Общее число выполненных тиков симуляции.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sim",
			Name:      "tick_duration_seconds",
			Help:      "Длительность одного тика симуляции.",
			Buckets:   []float64{0.0005, 0.001, 0.002, 0.004, 0.008, 0.016, 0.033, 0.066, 0.1},
		}),
		DegradedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sim",
			Name:      "degraded_ticks_total",
			Help:      "Тиков, в которых шаг физики был пропущен из-за ошибки.",
		}),
		EntityErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sim",
			Name:      "entity_errors_total",
			Help:      "Изолированных ошибок игровой логики отдельных сущностей.",
		}),
		CatchUpFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sim",
			Name:      "catch_up_frames_total",
			Help:      "Кадров, в которых выполнялось больше одного тика (догон).",
		}),
		StaleInputsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "input",
			Name:      "stale_dropped_total",
			Help:      "Отброшенных устаревших или повторных команд ввода.",
		}),
		OverflowInputsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "input",
			Name:      "overflow_dropped_total",
			Help:      "Команд ввода, потерянных из-за переполнения очереди.",
		}),
		InputsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "input",
			Name:      "applied_total",
			Help:      "Команд ввода, применённых симуляцией.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "net",
			Name:      "active_sessions",
			Help:      "Текущее число подключённых клиентов.",
		}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "net",
			Name:      "bytes_sent_total",
			Help:      "Отправлено байт игрового трафика.",
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "net",
			Name:      "bytes_received_total",
			Help:      "Получено байт игрового трафика.",
		}),
		FormatErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "net",
			Name:      "format_errors_total",
			Help:      "Сообщений, отброшенных из-за ошибок формата.",
		}),
		SnapshotsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "repl",
			Name:      "snapshots_sent_total",
			Help:      "Отправленных снапшотов по видам.",
		}, []string{"kind"}),
		SnapshotsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "repl",
			Name:      "snapshots_dropped_total",
			Help:      "Снапшотов, вытесненных более свежим состоянием до отправки.",
		}),
		SendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "repl",
			Name:      "send_failures_total",
			Help:      "Ошибок отправки, пометивших сессию на отключение.",
		}),
		SnapshotBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "repl",
			Name:      "snapshot_bytes_total",
			Help:      "Суммарный объём отправленных снапшотов.",
		}),
	}

	reg.MustRegister(
		m.TicksTotal, m.TickDuration, m.DegradedTicks, m.EntityErrors, m.CatchUpFrames,
		m.StaleInputsDropped, m.OverflowInputsDropped, m.InputsApplied,
		m.ActiveSessions, m.BytesSent, m.BytesReceived, m.FormatErrors,
		m.SnapshotsSent, m.SnapshotsDropped, m.SendFailures, m.SnapshotBytes,
	)
	return m
}
