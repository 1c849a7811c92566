package alerts

import (
	"context"
	"log/slog"
	"med-delivery-routing/internal/domain"
	"med-delivery-routing/internal/platform/logging"
	"med-delivery-routing/internal/platform/obs"
	"med-delivery-routing/internal/ports"
)

// LogPublisher writes alerts to the log. Used when no broker is configured.
type LogPublisher struct {
	logger *slog.Logger
}

var _ ports.AlertPublisher = (*LogPublisher)(nil)

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logging.OrDiscard(logger).With("component", "alerts")}
}

func (p *LogPublisher) PublishStabilityAlert(ctx context.Context, alert domain.StabilityAlert) error {
	p.logger.ErrorContext(ctx, "stability alert",
		"req_id", obs.RequestID(ctx),
		"order_id", alert.OrderID,
		"alert", alert.Alert,
		"temp", alert.Temp,
		"lat", alert.Lat,
		"lon", alert.Lon,
		"occurred_at", alert.OccurredAt,
	)
	return nil
}
