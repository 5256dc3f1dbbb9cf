package chathistory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/leadstitch/pkg/logging"
)

const transcriptKeyPrefix = "lead_transcript:"

// Transcript keeps a capped, expiring copy of recent messages per lead in Redis.
type Transcript struct {
	redis       *redis.Client
	tracer      trace.Tracer
	maxMessages int64
	ttl         time.Duration
}

func NewTranscript(client *redis.Client, ttl time.Duration) *Transcript {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &Transcript{
		redis:       client,
		tracer:      otel.Tracer("leadstitch.internal.chathistory.transcript"),
		maxMessages: 200,
		ttl:         ttl,
	}
}

func (t *Transcript) Append(ctx context.Context, msg Message) error {
	if t == nil || t.redis == nil {
		return nil
	}
	if msg.LeadID == "" {
		return errors.New("chathistory: transcript lead id required")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("chathistory: marshal transcript message: %w", err)
	}

	ctx, span := t.tracer.Start(ctx, "chathistory.transcript.append")
	defer span.End()

	key := transcriptKey(msg.LeadID)
	pipe := t.redis.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, t.ttl)
	pipe.LTrim(ctx, key, -t.maxMessages, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("chathistory: append transcript: %w", err)
	}
	return nil
}

// List returns up to limit of the most recent cached messages, oldest first.
func (t *Transcript) List(ctx context.Context, leadID string, limit int) ([]Message, error) {
	if t == nil || t.redis == nil {
		return nil, nil
	}
	ctx, span := t.tracer.Start(ctx, "chathistory.transcript.list")
	defer span.End()

	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	raw, err := t.redis.LRange(ctx, transcriptKey(leadID), start, -1).Result()
	if err != nil {
		span.RecordError(err)
		if err == redis.Nil {
			return []Message{}, nil
		}
		return nil, fmt.Errorf("chathistory: list transcript: %w", err)
	}
	out := make([]Message, 0, len(raw))
	for _, item := range raw {
		var m Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			span.RecordError(err)
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func transcriptKey(leadID string) string {
	return transcriptKeyPrefix + leadID
}

// History writes to a durable Store and mirrors new messages into the
// live transcript. Reads are served from the transcript when it has data.
type History struct {
	store  Store
	live   *Transcript
	logger *logging.Logger
}

func NewHistory(store Store, live *Transcript, logger *logging.Logger) *History {
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &History{store: store, live: live, logger: logger}
}

func (h *History) Append(ctx context.Context, msg Message) (bool, error) {
	if err := validate(&msg); err != nil {
		return false, err
	}
	inserted, err := h.store.Append(ctx, msg)
	if err != nil || !inserted {
		return inserted, err
	}
	if err := h.live.Append(ctx, msg); err != nil {
		h.logger.Warn("transcript append failed", "lead_id", msg.LeadID, "error", err)
	}
	return true, nil
}

func (h *History) List(ctx context.Context, leadID string, limit int) ([]Message, error) {
	if h.live != nil && limit > 0 && int64(limit) <= h.live.maxMessages {
		cached, err := h.live.List(ctx, leadID, limit)
		if err == nil && len(cached) > 0 {
			return cached, nil
		}
		if err != nil {
			h.logger.Warn("transcript read failed", "lead_id", leadID, "error", err)
		}
	}
	return h.store.List(ctx, leadID, limit)
}
