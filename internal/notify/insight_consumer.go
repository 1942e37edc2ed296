package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/kamalbuilds/aptos-markets/internal/domain"
)

// InsightConsumer subscribes to the "insights" bus channel and forwards
// each record to the Notifier. Event filtering happens inside the Notifier,
// so every insight is offered.
type InsightConsumer struct {
	bus      domain.SignalBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewInsightConsumer creates an InsightConsumer.
func NewInsightConsumer(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *InsightConsumer {
	return &InsightConsumer{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "insight_consumer")),
	}
}

// Run subscribes to "insights" and dispatches until ctx is cancelled.
func (c *InsightConsumer) Run(ctx context.Context) error {
	ch, err := c.bus.Subscribe(ctx, "insights")
	if err != nil {
		return fmt.Errorf("notify: subscribe insights: %w", err)
	}
	c.logger.Info("insight consumer started")
	defer c.logger.Info("insight consumer stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			c.handle(ctx, data)
		}
	}
}

func (c *InsightConsumer) handle(ctx context.Context, data []byte) {
	var ins domain.Insight
	if err := json.Unmarshal(data, &ins); err != nil {
		c.logger.Debug("drop unparseable insight", slog.Int("payload_len", len(data)))
		return
	}

	title, message := formatInsight(ins)
	if err := c.notifier.Notify(ctx, string(ins.Kind), title, message); err != nil {
		c.logger.Warn("insight delivery failed",
			slog.String("kind", string(ins.Kind)),
			slog.String("error", err.Error()),
		)
	}
}

// formatInsight renders an insight as a short alert. Detail keys are
// appended in a stable "k=v" form.
func formatInsight(ins domain.Insight) (title, message string) {
	title = strings.ReplaceAll(string(ins.Kind), "_", " ")

	var b strings.Builder
	if ins.Asset != "" {
		fmt.Fprintf(&b, "asset=%s ", ins.Asset)
	}
	if ins.MarketID != "" {
		fmt.Fprintf(&b, "market=%s ", ins.MarketID)
	}
	if ins.Subject != "" {
		fmt.Fprintf(&b, "subject=%s ", ins.Subject)
	}
	for _, k := range sortedKeys(ins.Detail) {
		fmt.Fprintf(&b, "%s=%s ", k, ins.Detail[k])
	}
	return title, strings.TrimSpace(b.String())
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
