package telemetry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultFileDir is where FileSink writes one file per metric.
const DefaultFileDir = "/tmp"

// FileSink writes each reading as text to <Dir>/<metric name>, replacing
// the previous value.
type FileSink struct {
	Dir string
}

// NewFileSink creates dir if needed and touches a file for every metric so
// readers find them even before the first reading.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create telemetry dir: %w", err)
	}
	for _, m := range Metrics {
		path := filepath.Join(dir, m.Name)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", path, err)
		}
		f.Close()
	}
	return &FileSink{Dir: dir}, nil
}

// Write replaces the metric's file contents with the formatted value.
func (s *FileSink) Write(m Metric, value float64) error {
	path := filepath.Join(s.Dir, m.Name)
	if err := os.WriteFile(path, []byte(fmt.Sprintf(m.Format, value)), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// DefaultRedisKey is the hash readings are stored in and the channel
// changed field names are published on.
const DefaultRedisKey = "obd"

// RedisSink stores readings in a Redis hash and publishes the name of
// every field whose value changed.
type RedisSink struct {
	client *redis.Client
	key    string

	mu   sync.Mutex
	last map[string]string
}

// NewRedisSink connects to addr and verifies the server answers.
func NewRedisSink(addr, key string) (*RedisSink, error) {
	if key == "" {
		key = DefaultRedisKey
	}
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", addr, err)
	}

	return &RedisSink{client: client, key: key, last: make(map[string]string)}, nil
}

// Write sets the field and publishes its name when the value changed,
// atomically.
func (s *RedisSink) Write(m Metric, value float64) error {
	text := fmt.Sprintf(m.Format, value)

	s.mu.Lock()
	changed := s.last[m.Name] != text
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.key, m.Name, text)
	if changed {
		pipe.Publish(ctx, s.key, m.Name)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis update %s: %w", m.Name, err)
	}

	s.mu.Lock()
	s.last[m.Name] = text
	s.mu.Unlock()
	return nil
}

// Close releases the Redis connection pool.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
