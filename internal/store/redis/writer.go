package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	"chartcore/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// Streams keep roughly a week of 1m bars.
const streamMaxLen = 10000

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer appends bars to their Redis Streams.
type Writer struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
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

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Writer{client: client}, nil
}

// Append writes one bar to its stream and publishes it for live subscribers.
func (w *Writer) Append(ctx context.Context, bar model.Bar) error {
	return w.AppendBatch(ctx, []model.Bar{bar})
}

// AppendBatch writes bars in a single pipeline, in order.
func (w *Writer) AppendBatch(ctx context.Context, bars []model.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	pipe := w.client.Pipeline()
	for i := range bars {
		b := &bars[i]
		jsonData := string(b.JSON())
		streamKey := b.StreamKey()

		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: streamKey,
			MaxLen: streamMaxLen,
			Approx: true,
			Values: map[string]interface{}{
				"data": jsonData,
			},
		})
		pipe.Publish(ctx, PubSubChannel(streamKey), jsonData)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline (%d bars): %w", len(bars), err)
	}
	return nil
}

// PubSubChannel is the channel a stream's bars are also published on.
func PubSubChannel(streamKey string) string {
	return "pub:" + streamKey
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
