// Package txfeed broadcasts committed transactions between processes over the store's
// pub/sub. Every message carries the origin of the publishing process so that a process
// skips its own transactions, which it already applied locally.
package txfeed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/livedoc/internal/domain/tx"
)

// DefaultChannel is used when no channel is configured.
const DefaultChannel = "txfeed"

// pubsub is the consumer interface for the transport (ISP).
type pubsub interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, fn func(payload []byte)) error
}

type envelope struct {
	Origin string          `json:"origin"`
	Tx     json.RawMessage `json:"tx"`
}

// Feed publishes and receives committed transactions.
type Feed struct {
	ps      pubsub
	channel string
	origin  string
	logger  *zap.Logger
}

// New creates a feed on channel with a fresh origin id.
func New(ps pubsub, channel string, logger *zap.Logger) *Feed {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{ps: ps, channel: channel, origin: ulid.Make().String(), logger: logger}
}

// Origin identifies this process on the feed.
func (f *Feed) Origin() string { return f.origin }

// Publish announces a committed transaction.
func (f *Feed) Publish(ctx context.Context, t tx.Tx) error {
	raw, err := tx.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode tx: %w", err)
	}
	payload, err := json.Marshal(envelope{Origin: f.origin, Tx: raw})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := f.ps.Publish(ctx, f.channel, payload); err != nil {
		return fmt.Errorf("publish tx: %w", err)
	}
	return nil
}

// Listen delivers transactions published by other processes until ctx is done.
// Undecodable messages are logged and skipped.
func (f *Feed) Listen(ctx context.Context, fn func(t tx.Tx)) error {
	return f.ps.Subscribe(ctx, f.channel, func(payload []byte) {
		var env envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			f.logger.Warn("dropping malformed feed message", zap.Error(err))
			return
		}
		if env.Origin == f.origin {
			return
		}
		t, err := tx.Unmarshal(env.Tx)
		if err != nil {
			f.logger.Warn("dropping undecodable tx", zap.String("origin", env.Origin), zap.Error(err))
			return
		}
		fn(t)
	})
}
