package job

import (
	"time"

	"github.com/relaymeter/relaymeter/logger"
	"github.com/relaymeter/relaymeter/service"
)

// NodeCounterResetJob zeroes node-scoped traffic counters for nodes whose
// billing reset day is today.
type NodeCounterResetJob struct {
	resetService *service.ResetService
}

func NewNodeCounterResetJob(resetService *service.ResetService) *NodeCounterResetJob {
	return &NodeCounterResetJob{resetService: resetService}
}

func (j *NodeCounterResetJob) Run() {
	reset, err := j.resetService.ResetNodeCountersForDay(time.Now())
	if err != nil {
		logger.Warning("node counter reset failed:", err)
		return
	}
	if len(reset) > 0 {
		logger.Infof("node counter reset completed: %d nodes", len(reset))
	}
}
