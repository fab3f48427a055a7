package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/relaymeter/relaymeter/database"
	"github.com/relaymeter/relaymeter/database/model"
	"github.com/relaymeter/relaymeter/event"
	"github.com/relaymeter/relaymeter/logger"
	"github.com/relaymeter/relaymeter/metrics"
	"github.com/relaymeter/relaymeter/queue"
	"github.com/relaymeter/relaymeter/util/common"

	"gorm.io/gorm"
)

// CommandResult reports that an asynchronous command was handed to the work
// queue. EventSent does not imply the agent has executed it; confirmation, if
// any, arrives through a later health signal.
type CommandResult struct {
	EventSent bool `json:"eventSent"`
}

// NodePosition is one (uuid, viewPosition) pair of a reorder request.
type NodePosition struct {
	UUID         string `json:"uuid"`
	ViewPosition int    `json:"viewPosition"`
}

// FleetService owns node administrative and connectivity state. Commands to
// remote agents go through the work queue; connectivity is driven by the
// health probe loop.
type FleetService struct {
	commands queue.CommandQueue
	notifier event.Notifier
	metrics  *metrics.Metrics
	probe    *http.Client

	// FailThreshold is how many consecutive missed probes disconnect a node.
	FailThreshold int
}

func NewFleetService(commands queue.CommandQueue, notifier event.Notifier, m *metrics.Metrics, probeTimeout time.Duration, failThreshold int) *FleetService {
	return &FleetService{
		commands:      commands,
		notifier:      notifier,
		metrics:       m,
		probe:         &http.Client{Timeout: probeTimeout},
		FailThreshold: failThreshold,
	}
}

// GetAllNodes retrieves all nodes ordered by view position.
func (s *FleetService) GetAllNodes() ([]*model.Node, error) {
	db := database.GetDB()
	var nodes []*model.Node
	err := db.Order("view_position, uuid").Find(&nodes).Error
	return nodes, err
}

// GetNode retrieves a node by uuid.
func (s *FleetService) GetNode(uuid string) (*model.Node, error) {
	db := database.GetDB()
	var node model.Node
	err := db.Where("uuid = ?", uuid).First(&node).Error
	if err != nil {
		if database.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownNode, uuid)
		}
		return nil, err
	}
	return &node, nil
}

// Enable clears the administrative DISABLED state and resumes health-driven
// transitions. The node comes back as DISCONNECTED until a probe succeeds.
func (s *FleetService) Enable(ctx context.Context, uuid string) (CommandResult, error) {
	node, err := s.GetNode(uuid)
	if err != nil {
		return CommandResult{}, err
	}

	if node.Status == model.NodeDisabled {
		db := database.GetDB()
		err = db.Model(&model.Node{}).Where("uuid = ?", uuid).
			Updates(map[string]any{
				"status":            model.NodeDisconnected,
				"consecutive_fails": 0,
			}).Error
		if err != nil {
			return CommandResult{}, err
		}
	}

	return s.dispatch(ctx, queue.CommandEnable, uuid)
}

// Disable puts the node into the administrative DISABLED state, suppressing
// health-driven transitions until re-enabled.
func (s *FleetService) Disable(ctx context.Context, uuid string) (CommandResult, error) {
	if _, err := s.GetNode(uuid); err != nil {
		return CommandResult{}, err
	}

	db := database.GetDB()
	err := db.Model(&model.Node{}).Where("uuid = ?", uuid).
		Update("status", model.NodeDisabled).Error
	if err != nil {
		return CommandResult{}, err
	}

	return s.dispatch(ctx, queue.CommandDisable, uuid)
}

// Restart asks the remote agent to restart. The returned result only records
// dispatch; node.restarted marks the command leaving the coordinator.
func (s *FleetService) Restart(ctx context.Context, uuid string) (CommandResult, error) {
	if _, err := s.GetNode(uuid); err != nil {
		return CommandResult{}, err
	}

	res, err := s.dispatch(ctx, queue.CommandRestart, uuid)
	if err != nil {
		return res, err
	}
	s.notify(event.Event{Name: event.NodeRestarted, NodeUUID: uuid, At: time.Now()})
	return res, nil
}

// RestartAll dispatches a restart to every node not administratively
// disabled. A queue failure aborts and surfaces to the caller.
func (s *FleetService) RestartAll(ctx context.Context) (CommandResult, error) {
	nodes, err := s.GetAllNodes()
	if err != nil {
		return CommandResult{}, err
	}

	for _, node := range nodes {
		if node.Status == model.NodeDisabled {
			continue
		}
		if _, err := s.dispatch(ctx, queue.CommandRestart, node.UUID); err != nil {
			return CommandResult{}, err
		}
		s.notify(event.Event{Name: event.NodeRestarted, NodeUUID: node.UUID, At: time.Now()})
	}
	return CommandResult{EventSent: true}, nil
}

// Reorder applies a full (uuid, viewPosition) assignment as one atomic batch.
// Any unknown uuid rolls the whole batch back, leaving every position
// unchanged. Pure metadata: no agent communication.
func (s *FleetService) Reorder(pairs []NodePosition) ([]*model.Node, error) {
	db := database.GetDB()
	err := db.Transaction(func(tx *gorm.DB) error {
		for _, pair := range pairs {
			res := tx.Model(&model.Node{}).
				Where("uuid = ?", pair.UUID).
				Update("view_position", pair.ViewPosition)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("%w: %s", ErrUnknownNode, pair.UUID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetAllNodes()
}

// CheckAllNodes probes every node not administratively disabled and applies
// connectivity transitions. A node disconnects after FailThreshold
// consecutive missed probes; connection_lost fires once, on the transition,
// not per missed probe.
func (s *FleetService) CheckAllNodes(ctx context.Context) error {
	nodes, err := s.GetAllNodes()
	if err != nil {
		return err
	}

	for _, node := range nodes {
		if node.Status == model.NodeDisabled {
			continue
		}
		if err := s.checkNode(ctx, node); err != nil {
			logger.Debugf("health probe for node %s (%s) failed: %v", node.Name, node.Address, err)
		}
	}

	s.refreshGauges()
	return nil
}

func (s *FleetService) checkNode(ctx context.Context, node *model.Node) error {
	db := database.GetDB()
	now := time.Now()

	probeErr := s.probeNode(ctx, node)
	if probeErr == nil {
		updates := map[string]any{
			"consecutive_fails": 0,
			"last_seen_at":      now,
		}
		restored := node.Status == model.NodeDisconnected
		if restored {
			updates["status"] = model.NodeConnected
		}
		if err := db.Model(&model.Node{}).Where("uuid = ?", node.UUID).Updates(updates).Error; err != nil {
			return err
		}
		if restored {
			node.Status = model.NodeConnected
			s.notify(event.Event{Name: event.NodeConnectionRestore, NodeUUID: node.UUID, At: now})
		}
		return nil
	}

	fails := node.ConsecutiveFails + 1
	updates := map[string]any{"consecutive_fails": fails}
	lost := node.Status == model.NodeConnected && fails >= s.FailThreshold
	if lost {
		updates["status"] = model.NodeDisconnected
	}
	if err := db.Model(&model.Node{}).Where("uuid = ?", node.UUID).Updates(updates).Error; err != nil {
		return err
	}
	node.ConsecutiveFails = fails
	if lost {
		node.Status = model.NodeDisconnected
		s.notify(event.Event{Name: event.NodeConnectionLost, NodeUUID: node.UUID, At: now})
	}
	return probeErr
}

// probeNode performs one health probe against the node agent.
func (s *FleetService) probeNode(ctx context.Context, node *model.Node) error {
	url := fmt.Sprintf("%s/health", node.Address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := s.probe.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return common.NewErrorf("node returned status code %d", resp.StatusCode)
	}
	return nil
}

// ScanNodeTrafficNotify emits node.traffic_notify for tracking-active nodes
// that crossed their notify percentage, at most once until the node-scoped
// counter reset clears the marker.
func (s *FleetService) ScanNodeTrafficNotify() ([]string, error) {
	db := database.GetDB()
	now := time.Now()

	var uuids []string
	err := db.Raw(`
		UPDATE nodes SET traffic_notified = ?, updated_at = ?
		WHERE is_traffic_tracking_active = ?
		  AND traffic_notified = ?
		  AND traffic_limit_bytes > 0
		  AND notify_percent > 0
		  AND used_traffic_bytes * 100 >= traffic_limit_bytes * notify_percent
		RETURNING uuid`,
		true, now, true, false,
	).Scan(&uuids).Error
	if err != nil {
		return nil, err
	}

	for _, uuid := range uuids {
		s.notify(event.Event{Name: event.NodeTrafficNotify, NodeUUID: uuid, At: now})
	}
	return uuids, nil
}

func (s *FleetService) refreshGauges() {
	if s.metrics == nil {
		return
	}
	db := database.GetDB()

	type statusCount struct {
		Status model.NodeStatus
		Total  int64
	}
	var counts []statusCount
	if err := db.Model(&model.Node{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&counts).Error; err != nil {
		logger.Warning("failed to refresh node status gauges:", err)
		return
	}

	byStatus := map[model.NodeStatus]int64{}
	for _, count := range counts {
		byStatus[count.Status] = count.Total
	}
	for _, status := range []model.NodeStatus{model.NodeConnected, model.NodeDisconnected, model.NodeDisabled} {
		s.metrics.NodesByStatus.WithLabelValues(string(status)).Set(float64(byStatus[status]))
	}
}

func (s *FleetService) dispatch(ctx context.Context, cmdType queue.CommandType, uuid string) (CommandResult, error) {
	err := s.commands.Enqueue(ctx, queue.Command{
		Type:     cmdType,
		NodeUUID: uuid,
		IssuedAt: time.Now(),
	})
	if err != nil {
		return CommandResult{}, err
	}
	return CommandResult{EventSent: true}, nil
}

func (s *FleetService) notify(e event.Event) {
	if s.notifier != nil {
		s.notifier.Notify(e)
	}
}
