package clockstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultRedisPrefix namespaces every key written by the Redis backend.
const DefaultRedisPrefix = "sessionlock:"

const defaultOpTimeout = 500 * time.Millisecond

// Redis is a Backend over a Redis server. Values are plain strings under
// "<prefix><namespace>:<key>"; every write is also published on
// "<prefix><namespace>:changes" so other views can follow it.
type Redis struct {
	client    *redis.Client
	prefix    string
	log       *zap.Logger
	opTimeout time.Duration
}

// NewRedis creates a Redis-backed clock store. An empty prefix selects
// DefaultRedisPrefix.
func NewRedis(client *redis.Client, prefix string, log *zap.Logger) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Redis{
		client:    client,
		prefix:    prefix,
		log:       log,
		opTimeout: defaultOpTimeout,
	}
}

// Open returns a new view on namespace with its own origin id.
func (r *Redis) Open(namespace string) Store {
	base := r.prefix + namespace + ":"
	return &RedisStore{
		client:    r.client,
		keyPrefix: base,
		channel:   base + "changes",
		origin:    uuid.NewString(),
		log:       r.log.With(zap.String("namespace", namespace)),
		opTimeout: r.opTimeout,
		handlers:  make(map[string]map[int]func(Change)),
	}
}

// redisMessage is the payload published for each write.
type redisMessage struct {
	Origin string `json:"origin"`
	Change
}

// RedisStore is one execution context's view of a Redis namespace.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	channel   string
	origin    string
	log       *zap.Logger
	opTimeout time.Duration

	mu       sync.Mutex
	handlers map[string]map[int]func(Change)
	nextID   int
	pubsub   *redis.PubSub
	done     chan struct{}
}

var _ Store = (*RedisStore)(nil)

func (s *RedisStore) key(k string) string {
	return s.keyPrefix + k
}

// Get reads key. Missing keys and read failures both report false.
func (s *RedisStore) Get(key string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()

	val, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false
	}
	if err != nil {
		s.log.Warn("clock store read failed", zap.String("key", key), zap.Error(err))
		return "", false
	}
	return val, true
}

// Set writes key and publishes the change in one transaction.
func (s *RedisStore) Set(key, value string) {
	s.write(Change{Key: key, Value: value}, func(ctx context.Context, pipe redis.Pipeliner) {
		pipe.Set(ctx, s.key(key), value, 0)
	})
}

// Delete removes key and publishes the change in one transaction.
func (s *RedisStore) Delete(key string) {
	s.write(Change{Key: key, Deleted: true}, func(ctx context.Context, pipe redis.Pipeliner) {
		pipe.Del(ctx, s.key(key))
	})
}

func (s *RedisStore) write(c Change, op func(context.Context, redis.Pipeliner)) {
	payload, err := json.Marshal(redisMessage{Origin: s.origin, Change: c})
	if err != nil {
		s.log.Warn("clock store encode failed", zap.String("key", c.Key), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		op(ctx, pipe)
		pipe.Publish(ctx, s.channel, payload)
		return nil
	})
	if err != nil {
		s.log.Warn("clock store write failed", zap.String("key", c.Key), zap.Error(err))
	}
}

// Subscribe calls handler for every change of key published by another
// view. The first call opens the namespace channel.
func (s *RedisStore) Subscribe(key string, handler func(Change)) func() {
	s.mu.Lock()
	if s.pubsub == nil {
		s.startLocked()
	}
	if s.handlers[key] == nil {
		s.handlers[key] = make(map[int]func(Change))
	}
	id := s.nextID
	s.nextID++
	s.handlers[key][id] = handler
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.handlers[key], id)
		s.mu.Unlock()
	}
}

// startLocked opens the change subscription. Must hold s.mu.
func (s *RedisStore) startLocked() {
	s.pubsub = s.client.Subscribe(context.Background(), s.channel)

	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()
	if _, err := s.pubsub.Receive(ctx); err != nil {
		// go-redis reconnects and resubscribes on its own; changes written
		// before that happens are missed.
		s.log.Warn("clock store subscribe failed", zap.String("channel", s.channel), zap.Error(err))
	}

	s.done = make(chan struct{})
	go s.listen(s.pubsub.Channel(), s.done)
}

func (s *RedisStore) listen(ch <-chan *redis.Message, done chan struct{}) {
	defer close(done)
	for msg := range ch {
		var m redisMessage
		if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
			s.log.Warn("clock store change decode failed", zap.Error(err))
			continue
		}
		if m.Origin == s.origin {
			continue
		}

		s.mu.Lock()
		hs := make([]func(Change), 0, len(s.handlers[m.Key]))
		for _, h := range s.handlers[m.Key] {
			hs = append(hs, h)
		}
		s.mu.Unlock()

		for _, h := range hs {
			h(m.Change)
		}
	}
}

// Close drops every subscription and waits for the listener to exit.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	ps, done := s.pubsub, s.done
	s.pubsub, s.done = nil, nil
	s.handlers = make(map[string]map[int]func(Change))
	s.mu.Unlock()

	if ps == nil {
		return nil
	}
	err := ps.Close()
	<-done
	return err
}

// ConnectRedis opens a client to addr and pings it.
func ConnectRedis(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
