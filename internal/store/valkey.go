package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"knowte-api/internal/cache"

	valkeylib "github.com/valkey-io/valkey-go"
)

const defaultConnectTimeout = 5 * time.Second

type ValkeyConfig struct {
	Address        string
	Password       string
	DB             int
	ConnectTimeout time.Duration
}

// NewValkeyClient connects and pings. The caller closes the client.
func NewValkeyClient(cfg ValkeyConfig) (valkeylib.Client, error) {
	opts := valkeylib.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	client, err := valkeylib.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	timeout := cfg.ConnectTimeout
	if timeout == 0 {
		timeout = defaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping valkey (timeout: %v): %w", timeout, err)
	}
	return client, nil
}

// ValkeyStore mirrors cache entries as JSON strings that expire with the cache TTL.
type ValkeyStore[M any] struct {
	client valkeylib.Client
	prefix string
	ttl    time.Duration
}

func NewValkeyStore[M any](client valkeylib.Client, prefix, namespace string, ttl time.Duration) *ValkeyStore[M] {
	p := strings.TrimSuffix(prefix, ":")
	if p != "" {
		p += ":"
	}
	return &ValkeyStore[M]{client: client, prefix: p + namespace + ":", ttl: ttl}
}

func (s *ValkeyStore[M]) fullKey(key string) string {
	return s.prefix + key
}

func (s *ValkeyStore[M]) Load(ctx context.Context, key string) (cache.Entry[M], bool, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.fullKey(key)).Build()).AsBytes()
	if err != nil {
		if valkeylib.IsValkeyNil(err) {
			return cache.Entry[M]{}, false, nil
		}
		return cache.Entry[M]{}, false, fmt.Errorf("failed to get entry: %w", err)
	}
	var entry cache.Entry[M]
	if err := json.Unmarshal(data, &entry); err != nil {
		return cache.Entry[M]{}, false, fmt.Errorf("failed to unmarshal entry: %w", err)
	}
	return entry, true, nil
}

func (s *ValkeyStore[M]) Save(ctx context.Context, entry cache.Entry[M]) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}
	set := s.client.B().Set().Key(s.fullKey(entry.Key)).Value(string(data))
	var cmd valkeylib.Completed
	if s.ttl > 0 {
		cmd = set.Ex(s.ttl).Build()
	} else {
		cmd = set.Build()
	}
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to save entry: %w", err)
	}
	return nil
}

func (s *ValkeyStore[M]) Delete(ctx context.Context, key string) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(s.fullKey(key)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	return nil
}
