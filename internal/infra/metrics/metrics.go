package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	NotificationsScheduled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifications_scheduled_total",
		Help: "Количество запланированных уведомлений",
	})
	NotificationsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifications_sent_total",
		Help: "Количество отправленных уведомлений",
	})
	NotificationsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifications_failed_total",
		Help: "Количество уведомлений с отказом доставки",
	})
	NotificationsCancelled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifications_cancelled_total",
		Help: "Количество отменённых уведомлений",
	})
	NotificationsDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifications_deleted_total",
		Help: "Количество удалённых по ретенции уведомлений",
	})
	ScheduleRunSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "schedule_run_seconds",
		Help:    "Длительность прохода планировщика",
		Buckets: prometheus.DefBuckets,
	})
	SendRunSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "send_run_seconds",
		Help:    "Длительность прохода рассылки",
		Buckets: prometheus.DefBuckets,
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 30, 60},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		NotificationsScheduled,
		NotificationsSent,
		NotificationsFailed,
		NotificationsCancelled,
		NotificationsDeleted,
		ScheduleRunSeconds,
		SendRunSeconds,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// AddScheduled увеличивает счётчик запланированных уведомлений.
func AddScheduled(n int) {
	if n > 0 {
		NotificationsScheduled.Add(float64(n))
	}
}

// IncSent увеличивает счётчик отправленных уведомлений.
func IncSent() {
	NotificationsSent.Inc()
}

// IncFailed увеличивает счётчик отказов доставки.
func IncFailed() {
	NotificationsFailed.Inc()
}

// AddCancelled увеличивает счётчик отменённых уведомлений.
func AddCancelled(n int) {
	if n > 0 {
		NotificationsCancelled.Add(float64(n))
	}
}

// AddDeleted увеличивает счётчик удалённых по ретенции уведомлений.
func AddDeleted(n int) {
	if n > 0 {
		NotificationsDeleted.Add(float64(n))
	}
}
