package job

import (
	"github.com/relaymeter/relaymeter/logger"
	"github.com/relaymeter/relaymeter/service"
)

// NodeTrafficNotifyJob emits node.traffic_notify for tracking-active nodes
// past their notify percentage, once per node-scoped billing cycle.
type NodeTrafficNotifyJob struct {
	fleetService *service.FleetService
}

func NewNodeTrafficNotifyJob(fleetService *service.FleetService) *NodeTrafficNotifyJob {
	return &NodeTrafficNotifyJob{fleetService: fleetService}
}

func (j *NodeTrafficNotifyJob) Run() {
	notified, err := j.fleetService.ScanNodeTrafficNotify()
	if err != nil {
		logger.Warning("node traffic notify scan failed:", err)
		return
	}
	if len(notified) > 0 {
		logger.Infof("node traffic notify scan flagged %d nodes", len(notified))
	}
}
