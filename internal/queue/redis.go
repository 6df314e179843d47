package queue

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Redis queue backed by a redis list. Producers LPUSH, the consumer RPOPs, so the list tail
// is always the oldest message.
type Redis struct {
	client redis.Cmdable
	key    string
}

// NewRedis creates a queue stored at key.
func NewRedis(client redis.Cmdable, key string) *Redis {
	return &Redis{client: client, key: key}
}

// Key returns the redis list key for user under the root prefix.
func Key(root, user string) string {
	return root + "commands:" + user
}

func (q *Redis) Enqueue(ctx context.Context, msg []byte) error {
	if err := q.client.LPush(ctx, q.key, msg).Err(); err != nil {
		return errors.Wrapf(err, "lpush %s", q.key)
	}
	return nil
}

func (q *Redis) TryDequeue(ctx context.Context) ([]byte, bool, error) {
	msg, err := q.client.RPop(ctx, q.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "rpop %s", q.key)
	}
	return msg, true, nil
}

// Ready returns nil: producers live in other processes, the consumer polls.
func (q *Redis) Ready() <-chan struct{} {
	return nil
}
