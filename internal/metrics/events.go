package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"aide/internal/domain"
)

// Watch subscribes to core events and counts them. Blocks until ctx is
// done or the bus closes its event channels.
func (c *Collector) Watch(ctx context.Context, bus domain.MessageBus) {
	messages := c.Counter("aide_messages_processed_total", "Messages fully processed by the pipeline")
	injections := c.Counter("aide_injections_rejected_total", "Inbound messages rejected as prompt injection")
	ticks := c.Counter("aide_heartbeat_ticks_total", "Heartbeat ticks executed")
	suppressed := c.Counter("aide_alerts_suppressed_total", "Heartbeat alerts suppressed by dedup")
	delivered := c.Counter("aide_alerts_delivered_total", "Heartbeat notifications delivered")

	pipelineEvents := bus.SubscribeEvents(domain.EventPipeline)
	heartbeatEvents := bus.SubscribeEvents(domain.EventHeartbeat)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-pipelineEvents:
			if !ok {
				return
			}
			switch ev.Name {
			case "message_processed":
				messages.Inc()
			case "injection_rejected":
				injections.Inc()
			}
		case ev, ok := <-heartbeatEvents:
			if !ok {
				return
			}
			switch ev.Name {
			case "tick":
				ticks.Inc()
			case "alert_suppressed":
				suppressed.Inc()
			case "alerts_delivered":
				delivered.Inc()
			}
		}
	}
}

// Serve exposes /metrics on addr until ctx is done.
func (c *Collector) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", c.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
