package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"
)

// Valkey is a Backend backed by a Valkey (Redis-compatible) server.
type Valkey struct {
	client valkey.Client
}

// NewValkey connects to the server at addr.
func NewValkey(addr string) (*Valkey, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("valkey connect: %w", err)
	}
	return &Valkey{client: client}, nil
}

// Get returns ErrMiss when the key does not exist.
func (v *Valkey) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := v.client.Do(ctx, v.client.B().Get().Key(key).Build()).AsBytes()
	if valkey.IsValkeyNil(err) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Set stores value with the given TTL. A TTL under one second stores the key
// without expiry, since the server rejects EX 0.
func (v *Valkey) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	set := v.client.B().Set().Key(key).Value(valkey.BinaryString(value))
	if ttl < time.Second {
		return v.client.Do(ctx, set.Build()).Error()
	}
	return v.client.Do(ctx, set.Ex(ttl).Build()).Error()
}

// Ping checks connectivity.
func (v *Valkey) Ping(ctx context.Context) error {
	return v.client.Do(ctx, v.client.B().Ping().Build()).Error()
}

// Close releases the client.
func (v *Valkey) Close() {
	v.client.Close()
}
