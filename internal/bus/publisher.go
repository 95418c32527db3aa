package bus

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alanyoungcy/opinionmarket/internal/domain"
)

// Publisher implements domain.EventPublisher on a SignalBus.
type Publisher struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewPublisher creates a Publisher.
func NewPublisher(bus domain.SignalBus, logger *slog.Logger) *Publisher {
	return &Publisher{bus: bus, logger: logger.With(slog.String("component", "bus"))}
}

// PublishEvents fans every event out to its channel and the stream. It keeps
// going past individual failures and returns them joined.
func (p *Publisher) PublishEvents(ctx context.Context, events []domain.Event) error {
	var errs []error
	for _, e := range events {
		payload, err := Encode(e)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := p.bus.Publish(ctx, Channel(e.Kind), payload); err != nil {
			errs = append(errs, err)
		}
		if err := p.bus.StreamAppend(ctx, Stream, payload); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		p.logger.WarnContext(ctx, "bus: publish incomplete",
			slog.Int("events", len(events)),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

var _ domain.EventPublisher = (*Publisher)(nil)
