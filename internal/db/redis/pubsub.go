package redis

import (
	"context"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/livedoc/internal/db"
)

// Publish sends payload on the prefixed channel.
func (s *Store) Publish(ctx context.Context, channel string, payload []byte) error {
	cmd := s.b().Publish().Channel(s.channel(channel)).Message(string(payload)).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		return &db.Error{Op: db.OpPublish, Err: err}
	}
	return nil
}

// Subscribe blocks on the prefixed channel until ctx is done.
func (s *Store) Subscribe(ctx context.Context, channel string, fn func(payload []byte)) error {
	cmd := s.b().Subscribe().Channel(s.channel(channel)).Build()
	err := s.client.Receive(ctx, cmd, func(msg rueidis.PubSubMessage) {
		fn([]byte(msg.Message))
	})
	if err != nil && ctx.Err() == nil {
		return &db.Error{Op: db.OpSubscribe, Err: err}
	}
	return nil
}
