// Package queue dispatches asynchronous administrative commands to remote
// node agents. Enqueue acknowledgement is the only delivery guarantee the
// coordinator records; agent-side execution is confirmed, if at all, through
// a later health signal.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type CommandType string

const (
	CommandEnable  CommandType = "enable"
	CommandDisable CommandType = "disable"
	CommandRestart CommandType = "restart"
)

// Command is one administrative instruction for a node agent.
type Command struct {
	Type     CommandType `json:"type"`
	NodeUUID string      `json:"nodeUuid"`
	IssuedAt time.Time   `json:"issuedAt"`
}

// CommandQueue is the work queue between the fleet coordinator and remote
// agents. A nil error from Enqueue means the command is durably queued, not
// that the agent has acted on it.
type CommandQueue interface {
	Enqueue(ctx context.Context, cmd Command) error
}

// RedisQueue implements CommandQueue on a per-node Redis list that each agent
// drains with BRPOP.
type RedisQueue struct {
	client *redis.Client
	prefix string
}

func NewRedisQueue(addr, password string, db int) *RedisQueue {
	return &RedisQueue{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		prefix: "relaymeter:commands:",
	}
}

// Ping verifies the queue backend is reachable.
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *RedisQueue) Enqueue(ctx context.Context, cmd Command) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.prefix+cmd.NodeUUID, payload).Err(); err != nil {
		return fmt.Errorf("enqueue %s for node %s: %w", cmd.Type, cmd.NodeUUID, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}
