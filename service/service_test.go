package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/relaymeter/relaymeter/database"
	"github.com/relaymeter/relaymeter/database/model"
	"github.com/relaymeter/relaymeter/event"
	"github.com/relaymeter/relaymeter/queue"

	"github.com/google/uuid"
)

func setupDB(t *testing.T) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "relaymeter-test.db")
	if err := database.InitDB(dbPath); err != nil {
		t.Fatalf("InitDB() failed: %v", err)
	}
	t.Cleanup(func() {
		_ = database.CloseDB()
	})
}

// recordingNotifier captures emitted events for assertions.
type recordingNotifier struct {
	mu     sync.Mutex
	events []event.Event
}

func (n *recordingNotifier) Notify(e event.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *recordingNotifier) byName(name event.Name) []event.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []event.Event
	for _, e := range n.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// stubQueue is an in-memory CommandQueue for fleet tests.
type stubQueue struct {
	mu       sync.Mutex
	commands []queue.Command
	failWith error
}

func (q *stubQueue) Enqueue(_ context.Context, cmd queue.Command) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failWith != nil {
		return q.failWith
	}
	q.commands = append(q.commands, cmd)
	return nil
}

func (q *stubQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.commands)
}

func createUser(t *testing.T, user *model.User) *model.User {
	t.Helper()
	if user.UUID == "" {
		user.UUID = uuid.NewString()
	}
	if user.Status == "" {
		user.Status = model.UserActive
	}
	if user.TrafficLimitStrategy == "" {
		user.TrafficLimitStrategy = model.ResetNever
	}
	if err := database.GetDB().Create(user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func createNode(t *testing.T, node *model.Node) *model.Node {
	t.Helper()
	if node.UUID == "" {
		node.UUID = uuid.NewString()
	}
	if node.Status == "" {
		node.Status = model.NodeConnected
	}
	if node.TrafficResetDay == 0 {
		node.TrafficResetDay = 1
	}
	if err := database.GetDB().Create(node).Error; err != nil {
		t.Fatalf("create node: %v", err)
	}
	return node
}

func getUser(t *testing.T, uuid string) *model.User {
	t.Helper()
	var user model.User
	if err := database.GetDB().Where("uuid = ?", uuid).First(&user).Error; err != nil {
		t.Fatalf("get user %s: %v", uuid, err)
	}
	return &user
}

func getNode(t *testing.T, uuid string) *model.Node {
	t.Helper()
	var node model.Node
	if err := database.GetDB().Where("uuid = ?", uuid).First(&node).Error; err != nil {
		t.Fatalf("get node %s: %v", uuid, err)
	}
	return &node
}

func timePtr(t time.Time) *time.Time {
	return &t
}
