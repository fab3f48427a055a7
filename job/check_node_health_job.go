package job

import (
	"context"

	"github.com/relaymeter/relaymeter/logger"
	"github.com/relaymeter/relaymeter/service"
)

// CheckNodeHealthJob probes every node agent and applies connectivity
// transitions. Administratively disabled nodes are skipped.
type CheckNodeHealthJob struct {
	fleetService *service.FleetService
	ctx          context.Context
}

func NewCheckNodeHealthJob(ctx context.Context, fleetService *service.FleetService) *CheckNodeHealthJob {
	return &CheckNodeHealthJob{
		fleetService: fleetService,
		ctx:          ctx,
	}
}

func (j *CheckNodeHealthJob) Run() {
	if err := j.fleetService.CheckAllNodes(j.ctx); err != nil {
		logger.Warning("node health check failed:", err)
	}
}
