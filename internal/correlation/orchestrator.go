package correlation

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/leadstitch/internal/attribution"
	"github.com/wolfman30/leadstitch/internal/observability/metrics"
	"github.com/wolfman30/leadstitch/internal/phone"
	"github.com/wolfman30/leadstitch/pkg/logging"
)

const (
	DefaultWindow        = 5 * time.Minute
	DefaultAdClickWindow = 10 * time.Minute
)

// Windows bounds how far back from the message timestamp each strategy may look.
type Windows struct {
	Default time.Duration
	AdClick time.Duration
}

func (w Windows) withDefaults() Windows {
	if w.Default <= 0 {
		w.Default = DefaultWindow
	}
	if w.AdClick <= 0 {
		w.AdClick = DefaultAdClickWindow
	}
	return w
}

// Inbound is the raw message view handed to Resolve.
type Inbound struct {
	Phone       string
	Text        string
	MessageID   string
	Timestamp   time.Time
	ContactName string
	ClickID     string
}

// Orchestrator runs strategies in rank order; the first match wins.
type Orchestrator struct {
	strategies []Strategy
	normalizer phone.Normalizer
	logger     *logging.Logger
	metrics    *metrics.AttributionMetrics
	tracer     trace.Tracer
	now        func() time.Time
}

func NewOrchestrator(strategies []Strategy, normalizer phone.Normalizer, logger *logging.Logger, m *metrics.AttributionMetrics) *Orchestrator {
	if len(strategies) == 0 {
		panic("correlation: at least one strategy required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Orchestrator{
		strategies: strategies,
		normalizer: normalizer,
		logger:     logger,
		metrics:    m,
		tracer:     otel.Tracer("leadstitch.internal.correlation"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// RankedStrategies returns the standard priority order: ad click id, exact
// phone, placeholder, device fingerprint. clicks may be a separate click
// store; when nil the attribution store serves clicks too.
func RankedStrategies(store attribution.Store, clicks attribution.ClickStore, windows Windows, logger *logging.Logger) []Strategy {
	if clicks == nil {
		clicks = store
	}
	windows = windows.withDefaults()
	return []Strategy{
		NewAdClickStrategy(store, clicks, windows.AdClick),
		NewExactPhoneStrategy(store, windows.Default),
		NewPlaceholderStrategy(store, windows.Default),
		NewFingerprintStrategy(store, store, windows.Default, logger),
	}
}

// Strategies returns the names in evaluation order.
func (o *Orchestrator) Strategies() []StrategyName {
	out := make([]StrategyName, len(o.strategies))
	for i, s := range o.strategies {
		out[i] = s.Name()
	}
	return out
}

// Request normalizes an inbound message for the strategies.
func (o *Orchestrator) Request(in Inbound) Request {
	ts := in.Timestamp
	if ts.IsZero() {
		ts = o.now()
	}
	canonical := phone.Normalize(in.Phone)
	return Request{
		Phone:       canonical,
		Variations:  o.normalizer.Variations(canonical),
		Text:        in.Text,
		MessageID:   in.MessageID,
		Timestamp:   ts,
		ContactName: strings.TrimSpace(in.ContactName),
		ClickID:     strings.TrimSpace(in.ClickID),
	}
}

// Resolve evaluates the ranked strategies. A store failure aborts the
// evaluation and is returned as *LookupError; no match is not an error.
func (o *Orchestrator) Resolve(ctx context.Context, in Inbound) (MatchResult, error) {
	req := o.Request(in)
	start := time.Now()

	ctx, span := o.tracer.Start(ctx, "correlation.resolve", trace.WithAttributes(
		attribute.String("message_id", req.MessageID),
		attribute.Bool("has_click_id", req.ClickID != ""),
	))
	defer span.End()

	for _, s := range o.strategies {
		result, ok, err := s.Match(ctx, req)
		if err != nil {
			lookupErr := &LookupError{Strategy: s.Name(), Err: err}
			span.RecordError(lookupErr)
			span.SetStatus(codes.Error, "lookup failed")
			o.logger.Error("correlation lookup failed", "strategy", s.Name(), "message_id", req.MessageID, "error", err)
			return MatchResult{}, lookupErr
		}
		if !ok {
			continue
		}
		result.Resolved = true
		result.Strategy = s.Name()

		delay := result.Delay(req.Timestamp)
		span.SetAttributes(attribute.String("strategy", string(s.Name())))
		o.metrics.ObserveResolution(string(s.Name()), time.Since(start).Seconds())
		o.metrics.ObserveDelay(string(s.Name()), delay.Seconds())
		o.logger.Info("inbound message correlated",
			"strategy", s.Name(),
			"message_id", req.MessageID,
			"pending_id", pendingID(result),
			"campaign_id", result.CampaignID(),
			"delay_ms", delay.Milliseconds(),
		)
		return result, nil
	}

	span.SetAttributes(attribute.String("strategy", string(StrategyNone)))
	o.metrics.ObserveResolution(string(StrategyNone), time.Since(start).Seconds())
	o.logger.Info("inbound message unresolved", "phone", req.Phone, "message_id", req.MessageID)
	return Unresolved(), nil
}

func pendingID(m MatchResult) string {
	if m.Pending == nil {
		return ""
	}
	return m.Pending.ID
}
