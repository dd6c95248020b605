// Package redis reads and writes bars on Redis Streams.
//
// Each (granularity, symbol) pair has one stream, "bars:{granularity}:{symbol}",
// whose entries carry the JSON-encoded model.Bar in a "data" field.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"chartcore/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	replayPageSize = 1000
	tailCount      = 100
	tailBlock      = 2 * time.Second
)

// ErrNoData is returned for a stream entry without a string "data" field.
var ErrNoData = errors.New("redis: entry has no data field")

// ReaderConfig configures the Redis reader.
type ReaderConfig struct {
	Addr     string
	Password string
	DB       int
}

// Reader reads bars from Redis Streams.
type Reader struct {
	client  *goredis.Client
	breaker *Breaker

	// OnRead is called after every stream read with the number of entries
	// returned (optional).
	OnRead func(n int, took time.Duration)
}

// NewReader creates a new Redis Reader and pings the server.
func NewReader(cfg ReaderConfig) (*Reader, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis-reader] connected to %s", cfg.Addr)
	return &Reader{
		client:  client,
		breaker: NewBreaker(5, 10*time.Second),
	}, nil
}

// Client returns the underlying Redis client for health checks.
func (r *Reader) Client() *goredis.Client { return r.client }

// Breaker returns the breaker guarding Tail.
func (r *Reader) Breaker() *Breaker { return r.breaker }

// ReplayFrom sends every bar in stream after startID to out, oldest first,
// and returns the ID of the last entry consumed. Use "0" to replay the whole
// stream. Entries that do not decode are skipped.
func (r *Reader) ReplayFrom(ctx context.Context, stream, startID string, out chan<- model.Bar) (string, error) {
	lastID := startID
	for {
		start := time.Now()
		results, err := r.client.XRangeN(ctx, stream, "("+lastID, "+", replayPageSize).Result()
		if err != nil {
			return lastID, fmt.Errorf("xrange %s from %s: %w", stream, lastID, err)
		}
		r.observe(len(results), start)

		for _, msg := range results {
			lastID = msg.ID
			bar, err := DecodeBar(msg.Values)
			if err != nil {
				log.Printf("[redis-reader] skipping %s %s: %v", stream, msg.ID, err)
				continue
			}
			select {
			case out <- bar:
			case <-ctx.Done():
				return lastID, ctx.Err()
			}
		}

		if len(results) < replayPageSize {
			return lastID, nil
		}
	}
}

// Tail blocks on XREAD and sends every new bar in stream after fromID to out
// until ctx is cancelled. Read errors go through the breaker; while it is
// open Tail waits out the cooldown instead of retrying.
func (r *Reader) Tail(ctx context.Context, stream, fromID string, out chan<- model.Bar) error {
	lastID := fromID
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var results []goredis.XStream
		start := time.Now()
		err := r.breaker.Do(func() error {
			var err error
			results, err = r.client.XRead(ctx, &goredis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   tailCount,
				Block:   tailBlock,
			}).Result()
			return err
		})
		switch {
		case err == nil:
		case errors.Is(err, goredis.Nil) || ctx.Err() != nil:
			continue
		case errors.Is(err, ErrBreakerOpen):
			if !sleepCtx(ctx, r.breaker.Remaining()) {
				return ctx.Err()
			}
			continue
		default:
			log.Printf("[redis-reader] xread %s error: %v", stream, err)
			if !sleepCtx(ctx, 500*time.Millisecond) {
				return ctx.Err()
			}
			continue
		}

		for _, xs := range results {
			r.observe(len(xs.Messages), start)
			for _, msg := range xs.Messages {
				lastID = msg.ID
				bar, err := DecodeBar(msg.Values)
				if err != nil {
					log.Printf("[redis-reader] skipping %s %s: %v", stream, msg.ID, err)
					continue
				}
				select {
				case out <- bar:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

func (r *Reader) observe(n int, start time.Time) {
	if r.OnRead != nil {
		r.OnRead(n, time.Since(start))
	}
}

// DecodeBar parses a stream entry's "data" field into a Bar.
func DecodeBar(values map[string]interface{}) (model.Bar, error) {
	data, ok := values["data"].(string)
	if !ok {
		return model.Bar{}, ErrNoData
	}
	var bar model.Bar
	if err := json.Unmarshal([]byte(data), &bar); err != nil {
		return model.Bar{}, fmt.Errorf("unmarshal bar: %w", err)
	}
	return bar, nil
}

// sleepCtx waits d or until ctx is done; it reports whether ctx is still live.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Close closes the Redis client.
func (r *Reader) Close() error {
	return r.client.Close()
}
