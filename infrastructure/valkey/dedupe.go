package valkey

import (
	"context"
	"time"
)

// DedupeBackend shares the processed-message index across server
// instances. Keys expire server-side; the local cache stays the first
// line of defence when valkey is unreachable.
type DedupeBackend struct {
	client *Client
}

func NewDedupeBackend(client *Client) *DedupeBackend {
	return &DedupeBackend{client: client}
}

func (b *DedupeBackend) Has(ctx context.Context, key string) (bool, error) {
	inner := b.client.Inner()
	n, err := inner.Do(ctx, inner.B().Exists().Key(b.client.Key("dedupe", key)).Build()).AsInt64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (b *DedupeBackend) Set(ctx context.Context, key string, ttl time.Duration) error {
	inner := b.client.Inner()
	cmd := inner.B().Set().
		Key(b.client.Key("dedupe", key)).
		Value("1").
		Px(ttl).
		Build()
	return inner.Do(ctx, cmd).Error()
}
