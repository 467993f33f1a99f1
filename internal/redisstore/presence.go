// Package redisstore mirrors gateway presence into Redis so other processes
// can see who is online and follow transitions over pub/sub.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// Keys used:
// - <prefix>:online: set of online user IDs
// - <prefix>:presence: pub/sub channel carrying PresenceEvent JSON

// PresenceEvent is published on every transition.
type PresenceEvent struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
	At     int64  `json:"at"`
}

// PresenceMirror implements realtime.PresenceMirror on a Redis client.
type PresenceMirror struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewPresenceMirror(client *redis.Client, prefix string) *PresenceMirror {
	if prefix == "" {
		prefix = "chat"
	}
	return &PresenceMirror{client: client, prefix: prefix, now: time.Now}
}

// Connect dials Redis and checks the connection with PING.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

func (m *PresenceMirror) onlineKey() string { return m.prefix + ":online" }

// Channel is the pub/sub channel transitions are published on.
func (m *PresenceMirror) Channel() string { return m.prefix + ":presence" }

func (m *PresenceMirror) Online(ctx context.Context, userID string) error {
	return m.publish(ctx, userID, "online", func(pipe redis.Pipeliner) {
		pipe.SAdd(ctx, m.onlineKey(), userID)
	})
}

func (m *PresenceMirror) Offline(ctx context.Context, userID string) error {
	return m.publish(ctx, userID, "offline", func(pipe redis.Pipeliner) {
		pipe.SRem(ctx, m.onlineKey(), userID)
	})
}

func (m *PresenceMirror) publish(ctx context.Context, userID, status string, mutate func(redis.Pipeliner)) error {
	payload, err := json.Marshal(PresenceEvent{UserID: userID, Status: status, At: m.now().Unix()})
	if err != nil {
		return err
	}
	_, err = m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		mutate(pipe)
		pipe.Publish(ctx, m.Channel(), payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("mirror %s %s: %w", status, userID, err)
	}
	return nil
}

// OnlineUsers returns the mirrored online set, sorted.
func (m *PresenceMirror) OnlineUsers(ctx context.Context) ([]string, error) {
	ids, err := m.client.SMembers(ctx, m.onlineKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// Reset clears the mirrored set. A gateway calls it at startup since no
// connections survive a restart.
func (m *PresenceMirror) Reset(ctx context.Context) error {
	return m.client.Del(ctx, m.onlineKey()).Err()
}

// Subscribe streams decoded transitions until ctx is done. The returned
// channel is closed when the subscription ends.
func (m *PresenceMirror) Subscribe(ctx context.Context) (<-chan PresenceEvent, error) {
	sub := m.client.Subscribe(ctx, m.Channel())
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	out := make(chan PresenceEvent, 16)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var evt PresenceEvent
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					continue
				}
				select {
				case out <- evt:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
