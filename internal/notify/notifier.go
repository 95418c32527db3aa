// Package notify forwards selected market events to operator channels
// (Telegram, Discord). A Forwarder subscribes to the event bus and hands
// every event to the Notifier, which filters by kind and fans out.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/alanyoungcy/opinionmarket/internal/bus"
	"github.com/alanyoungcy/opinionmarket/internal/domain"
)

// DefaultKinds are the events operators hear about unless configured otherwise.
var DefaultKinds = []domain.EventKind{
	domain.EventPoolExecuted,
	domain.EventPaused,
	domain.EventUnpaused,
	domain.EventEmergencyWithdraw,
}

// Sender delivers one notification to a channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches events of the allowed kinds to every Sender.
type Notifier struct {
	senders []Sender
	kinds   map[domain.EventKind]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty kinds list selects DefaultKinds.
func NewNotifier(senders []Sender, kinds []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventKind]bool)
	for _, k := range kinds {
		if k = strings.TrimSpace(k); k != "" {
			allowed[domain.EventKind(k)] = true
		}
	}
	if len(allowed) == 0 {
		for _, k := range DefaultKinds {
			allowed[k] = true
		}
	}
	return &Notifier{
		senders: senders,
		kinds:   allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether n has anywhere to send.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// Notify sends e if its kind is allowed. One sender failing does not stop
// the others; failures are returned joined.
func (n *Notifier) Notify(ctx context.Context, e domain.Event) error {
	if !n.kinds[e.Kind] {
		return nil
	}
	title, message := Format(e)

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "notify: sender failed",
				slog.String("sender", s.Name()),
				slog.String("kind", string(e.Kind)),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notify: sent",
			slog.String("sender", s.Name()),
			slog.Uint64("seq", e.Seq),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// Format renders an event as a title and a plain-text body.
func Format(e domain.Event) (string, string) {
	var title string
	switch e.Kind {
	case domain.EventPoolExecuted:
		title = fmt.Sprintf("Pool %d executed on opinion %d", e.PoolID, e.OpinionID)
	case domain.EventPaused:
		title = "Market paused"
	case domain.EventUnpaused:
		title = "Market unpaused"
	case domain.EventEmergencyWithdraw:
		title = "Emergency withdrawal"
	default:
		title = strings.ReplaceAll(string(e.Kind), "_", " ")
	}

	lines := []string{
		"actor: " + e.Actor.Hex(),
		fmt.Sprintf("block: %d", e.Block),
	}
	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %s", k, formatValue(k, e.Data[k])))
	}
	return title, strings.Join(lines, "\n")
}

// formatValue renders amount-like fields in whole tokens.
func formatValue(key string, v any) string {
	if key != "price" && key != "amount" {
		return fmt.Sprint(v)
	}
	switch n := v.(type) {
	case int64:
		return domain.Amount(n).String()
	case float64:
		return domain.Amount(int64(n)).String()
	}
	return fmt.Sprint(v)
}

// Forwarder relays bus events to a Notifier.
type Forwarder struct {
	bus      domain.SignalBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewForwarder creates a Forwarder.
func NewForwarder(b domain.SignalBus, n *Notifier, logger *slog.Logger) *Forwarder {
	return &Forwarder{bus: b, notifier: n, logger: logger.With(slog.String("component", "notify_forwarder"))}
}

// Run forwards events until ctx is done.
func (f *Forwarder) Run(ctx context.Context) error {
	ch, err := f.bus.Subscribe(ctx, bus.AllEvents)
	if err != nil {
		return fmt.Errorf("notify: subscribe: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-ch:
			if !ok {
				return nil
			}
			e, err := bus.Decode(payload)
			if err != nil {
				f.logger.WarnContext(ctx, "notify: bad event payload", slog.String("error", err.Error()))
				continue
			}
			// Delivery failures are logged by the notifier.
			_ = f.notifier.Notify(ctx, e)
		}
	}
}
