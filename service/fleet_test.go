package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/relaymeter/relaymeter/database/model"
	"github.com/relaymeter/relaymeter/event"
	"github.com/relaymeter/relaymeter/queue"
)

func newFleetService(q queue.CommandQueue, notifier event.Notifier) *FleetService {
	return NewFleetService(q, notifier, nil, time.Second, 3)
}

func TestFleetEnableClearsDisabled(t *testing.T) {
	setupDB(t)
	q := &stubQueue{}
	notifier := &recordingNotifier{}
	svc := newFleetService(q, notifier)

	node := createNode(t, &model.Node{Status: model.NodeDisabled, ConsecutiveFails: 5})

	res, err := svc.Enable(context.Background(), node.UUID)
	if err != nil {
		t.Fatalf("Enable() failed: %v", err)
	}
	if !res.EventSent {
		t.Error("expected EventSent after enable")
	}

	got := getNode(t, node.UUID)
	if got.Status != model.NodeDisconnected {
		t.Errorf("status = %s, expected DISCONNECTED until a probe succeeds", got.Status)
	}
	if got.ConsecutiveFails != 0 {
		t.Errorf("consecutiveFails = %d, expected 0", got.ConsecutiveFails)
	}
	if q.count() != 1 || q.commands[0].Type != queue.CommandEnable {
		t.Errorf("queue = %+v, expected one enable command", q.commands)
	}
}

func TestFleetDisable(t *testing.T) {
	setupDB(t)
	q := &stubQueue{}
	svc := newFleetService(q, &recordingNotifier{})

	node := createNode(t, &model.Node{Status: model.NodeConnected})

	if _, err := svc.Disable(context.Background(), node.UUID); err != nil {
		t.Fatalf("Disable() failed: %v", err)
	}
	if got := getNode(t, node.UUID); got.Status != model.NodeDisabled {
		t.Errorf("status = %s, expected DISABLED", got.Status)
	}
	if q.count() != 1 || q.commands[0].Type != queue.CommandDisable {
		t.Errorf("queue = %+v, expected one disable command", q.commands)
	}
}

func TestFleetCommandsUnknownNode(t *testing.T) {
	setupDB(t)
	svc := newFleetService(&stubQueue{}, &recordingNotifier{})
	ctx := context.Background()

	if _, err := svc.Enable(ctx, "no-such-node"); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("Enable() error = %v, expected ErrUnknownNode", err)
	}
	if _, err := svc.Disable(ctx, "no-such-node"); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("Disable() error = %v, expected ErrUnknownNode", err)
	}
	if _, err := svc.Restart(ctx, "no-such-node"); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("Restart() error = %v, expected ErrUnknownNode", err)
	}
}

func TestFleetQueueFailureSurfaces(t *testing.T) {
	setupDB(t)
	queueErr := errors.New("broker unavailable")
	q := &stubQueue{failWith: queueErr}
	svc := newFleetService(q, &recordingNotifier{})

	node := createNode(t, &model.Node{})

	res, err := svc.Restart(context.Background(), node.UUID)
	if !errors.Is(err, queueErr) {
		t.Fatalf("Restart() error = %v, expected queue error", err)
	}
	if res.EventSent {
		t.Error("EventSent must be false when dispatch failed")
	}
}

func TestFleetRestartAllSkipsDisabled(t *testing.T) {
	setupDB(t)
	q := &stubQueue{}
	notifier := &recordingNotifier{}
	svc := newFleetService(q, notifier)

	createNode(t, &model.Node{Status: model.NodeConnected})
	createNode(t, &model.Node{Status: model.NodeDisconnected})
	disabled := createNode(t, &model.Node{Status: model.NodeDisabled})

	res, err := svc.RestartAll(context.Background())
	if err != nil {
		t.Fatalf("RestartAll() failed: %v", err)
	}
	if !res.EventSent {
		t.Error("expected EventSent")
	}
	if q.count() != 2 {
		t.Fatalf("dispatched %d commands, expected 2", q.count())
	}
	for _, cmd := range q.commands {
		if cmd.NodeUUID == disabled.UUID {
			t.Errorf("restart dispatched to disabled node %s", disabled.UUID)
		}
	}
	if events := notifier.byName(event.NodeRestarted); len(events) != 2 {
		t.Errorf("expected two node.restarted events, got %d", len(events))
	}
}

func TestFleetReorderAtomic(t *testing.T) {
	setupDB(t)
	svc := newFleetService(&stubQueue{}, &recordingNotifier{})

	first := createNode(t, &model.Node{ViewPosition: 1})
	second := createNode(t, &model.Node{ViewPosition: 2})

	// One unknown uuid rolls the whole batch back.
	_, err := svc.Reorder([]NodePosition{
		{UUID: first.UUID, ViewPosition: 2},
		{UUID: "missing", ViewPosition: 1},
	})
	if !errors.Is(err, ErrUnknownNode) {
		t.Fatalf("Reorder() error = %v, expected ErrUnknownNode", err)
	}
	if got := getNode(t, first.UUID); got.ViewPosition != 1 {
		t.Errorf("viewPosition = %d, expected untouched 1", got.ViewPosition)
	}

	nodes, err := svc.Reorder([]NodePosition{
		{UUID: first.UUID, ViewPosition: 2},
		{UUID: second.UUID, ViewPosition: 1},
	})
	if err != nil {
		t.Fatalf("Reorder() failed: %v", err)
	}
	if len(nodes) != 2 || nodes[0].UUID != second.UUID || nodes[1].UUID != first.UUID {
		t.Errorf("reordered listing wrong: %v, %v", nodes[0].UUID, nodes[1].UUID)
	}
}

func TestFleetHealthDisconnectAfterConsecutiveFails(t *testing.T) {
	setupDB(t)
	notifier := &recordingNotifier{}
	svc := NewFleetService(&stubQueue{}, notifier, nil, 200*time.Millisecond, 3)

	// Nothing listens here, so every probe fails.
	node := createNode(t, &model.Node{Status: model.NodeConnected, Address: "http://127.0.0.1:1"})

	ctx := context.Background()
	for i := 1; i <= 2; i++ {
		if err := svc.CheckAllNodes(ctx); err != nil {
			t.Fatal(err)
		}
		got := getNode(t, node.UUID)
		if got.Status != model.NodeConnected {
			t.Fatalf("after %d misses status = %s, expected still CONNECTED", i, got.Status)
		}
		if got.ConsecutiveFails != i {
			t.Fatalf("after %d misses consecutiveFails = %d", i, got.ConsecutiveFails)
		}
	}

	// Third miss crosses the threshold.
	if err := svc.CheckAllNodes(ctx); err != nil {
		t.Fatal(err)
	}
	if got := getNode(t, node.UUID); got.Status != model.NodeDisconnected {
		t.Fatalf("status = %s, expected DISCONNECTED", got.Status)
	}

	// Further misses must not repeat the notification.
	if err := svc.CheckAllNodes(ctx); err != nil {
		t.Fatal(err)
	}
	if events := notifier.byName(event.NodeConnectionLost); len(events) != 1 {
		t.Errorf("expected exactly one connection_lost event, got %d", len(events))
	}
}

func TestFleetHealthRestore(t *testing.T) {
	setupDB(t)
	notifier := &recordingNotifier{}
	svc := newFleetService(&stubQueue{}, notifier)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	node := createNode(t, &model.Node{Status: model.NodeDisconnected, Address: server.URL, ConsecutiveFails: 7})

	ctx := context.Background()
	if err := svc.CheckAllNodes(ctx); err != nil {
		t.Fatal(err)
	}

	got := getNode(t, node.UUID)
	if got.Status != model.NodeConnected {
		t.Fatalf("status = %s, expected CONNECTED", got.Status)
	}
	if got.ConsecutiveFails != 0 {
		t.Errorf("consecutiveFails = %d, expected 0", got.ConsecutiveFails)
	}
	if got.LastSeenAt == nil {
		t.Error("lastSeenAt not stamped")
	}

	// A second healthy probe keeps the state and stays quiet.
	if err := svc.CheckAllNodes(ctx); err != nil {
		t.Fatal(err)
	}
	if events := notifier.byName(event.NodeConnectionRestore); len(events) != 1 {
		t.Errorf("expected exactly one connection_restored event, got %d", len(events))
	}
}

func TestFleetHealthSkipsDisabled(t *testing.T) {
	setupDB(t)
	notifier := &recordingNotifier{}
	svc := newFleetService(&stubQueue{}, notifier)

	node := createNode(t, &model.Node{Status: model.NodeDisabled, Address: "http://127.0.0.1:1"})

	if err := svc.CheckAllNodes(context.Background()); err != nil {
		t.Fatal(err)
	}
	got := getNode(t, node.UUID)
	if got.Status != model.NodeDisabled || got.ConsecutiveFails != 0 {
		t.Errorf("disabled node was probed: status=%s fails=%d", got.Status, got.ConsecutiveFails)
	}
	if len(notifier.byName(event.NodeConnectionLost)) != 0 {
		t.Error("unexpected connection_lost for a disabled node")
	}
}

func TestScanNodeTrafficNotify(t *testing.T) {
	setupDB(t)
	notifier := &recordingNotifier{}
	svc := newFleetService(&stubQueue{}, notifier)

	over := createNode(t, &model.Node{
		IsTrafficTrackingActive: true,
		TrafficLimitBytes:       1000,
		UsedTrafficBytes:        900,
		NotifyPercent:           80,
	})
	under := createNode(t, &model.Node{
		IsTrafficTrackingActive: true,
		TrafficLimitBytes:       1000,
		UsedTrafficBytes:        100,
		NotifyPercent:           80,
	})
	passive := createNode(t, &model.Node{
		TrafficLimitBytes: 1000,
		UsedTrafficBytes:  999,
		NotifyPercent:     80,
	})

	uuids, err := svc.ScanNodeTrafficNotify()
	if err != nil {
		t.Fatalf("ScanNodeTrafficNotify() failed: %v", err)
	}
	if len(uuids) != 1 || uuids[0] != over.UUID {
		t.Fatalf("notified = %v, expected [%s]", uuids, over.UUID)
	}
	if got := getNode(t, over.UUID); !got.TrafficNotified {
		t.Error("trafficNotified not set")
	}
	if got := getNode(t, under.UUID); got.TrafficNotified {
		t.Error("under-threshold node marked notified")
	}
	if got := getNode(t, passive.UUID); got.TrafficNotified {
		t.Error("tracking-inactive node marked notified")
	}

	// At most once until the counter reset clears the marker.
	again, err := svc.ScanNodeTrafficNotify()
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Errorf("second scan notified %v, expected none", again)
	}
	if events := notifier.byName(event.NodeTrafficNotify); len(events) != 1 {
		t.Errorf("expected one node.traffic_notify event, got %d", len(events))
	}
}
