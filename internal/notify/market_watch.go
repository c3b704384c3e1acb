package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/veilmarket/veilmarket/internal/domain"
)

// MarketWatch subscribes to the market lifecycle channel and forwards
// settlement and cancellation events to the notifier, so operators hear
// about terminal transitions without tailing logs.
type MarketWatch struct {
	bus      domain.SignalBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewMarketWatch creates a MarketWatch.
func NewMarketWatch(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *MarketWatch {
	return &MarketWatch{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "market_watch")),
	}
}

// Run consumes market events until the context is cancelled.
func (w *MarketWatch) Run(ctx context.Context) error {
	events, err := w.bus.Subscribe(ctx, domain.ChannelMarkets)
	if err != nil {
		return fmt.Errorf("notify: subscribe market events: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-events:
			if !ok {
				return nil
			}
			w.handle(ctx, payload)
		}
	}
}

func (w *MarketWatch) handle(ctx context.Context, payload []byte) {
	var ev domain.MarketEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		w.logger.WarnContext(ctx, "unparseable market event",
			slog.String("error", err.Error()),
		)
		return
	}

	var title, message string
	switch ev.Type {
	case domain.EventMarketSettled:
		title = fmt.Sprintf("Market %d settled", ev.MarketID)
		win := "?"
		if ev.WinningOption != nil {
			win = fmt.Sprintf("%d", *ev.WinningOption)
		}
		message = fmt.Sprintf("Winning option: %s\nTotal pool: %s wei", win, ev.TotalPoolWei)
	case domain.EventMarketCancelled:
		title = fmt.Sprintf("Market %d cancelled", ev.MarketID)
		message = "Bettors can reclaim their deposits via refund."
	default:
		return
	}

	if err := w.notifier.Notify(ctx, string(ev.Type), title, message); err != nil {
		w.logger.ErrorContext(ctx, "notification failed",
			slog.String("event", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
}
