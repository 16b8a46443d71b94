package telemetry

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSink publishes register activity to a Redis hash (last-known
// value per register, hex-encoded) and a pub/sub channel, mirroring
// the write-then-publish pattern used elsewhere in this stack for
// pushing state to other processes on the same host.
type RedisSink struct {
	client  *redis.Client
	hashKey string
	channel string
	timeout time.Duration
}

// NewRedisSink connects to addr and returns a Sink that records every
// register read/write under hashKey and publishes a notification on
// channel. db selects the Redis logical database.
func NewRedisSink(addr, password string, db int, hashKey, channel string) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("telemetry: connect to redis at %s: %w", addr, err)
	}

	return &RedisSink{client: client, hashKey: hashKey, channel: channel, timeout: 2 * time.Second}, nil
}

func (s *RedisSink) RegisterRead(id uint32, raw []byte) {
	s.writeAndPublish("read", id, raw)
}

func (s *RedisSink) RegisterWrite(id uint32, raw []byte) {
	s.writeAndPublish("write", id, raw)
}

func (s *RedisSink) writeAndPublish(kind string, id uint32, raw []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	field := fmt.Sprintf("%#08x", id)
	value := hex.EncodeToString(raw)

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, s.hashKey, field, value)
	pipe.Publish(ctx, s.channel, fmt.Sprintf("%s:%s:%s", kind, field, value))
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("telemetry: redis publish failed for register %#08x: %v", id, err)
	}
}

// Close releases the underlying Redis client.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
