package job

import (
	"github.com/relaymeter/relaymeter/database/model"
	"github.com/relaymeter/relaymeter/logger"
	"github.com/relaymeter/relaymeter/service"
)

// PeriodicTrafficResetJob archives and zeroes usage counters for all users on
// one reset strategy. LIMITED users go through the reactivation variant, which
// flips them back to ACTIVE in the same atomic step.
type PeriodicTrafficResetJob struct {
	resetService *service.ResetService
	strategy     model.ResetStrategy
}

func NewPeriodicTrafficResetJob(resetService *service.ResetService, strategy model.ResetStrategy) *PeriodicTrafficResetJob {
	return &PeriodicTrafficResetJob{
		resetService: resetService,
		strategy:     strategy,
	}
}

func (j *PeriodicTrafficResetJob) Run() {
	reactivated, err := j.resetService.ResetLimitedUsersByStrategy(j.strategy)
	if err != nil {
		logger.Warningf("limited-user traffic reset (%s) failed: %v", j.strategy, err)
	}

	reset, err := j.resetService.ResetUsersByStrategy(j.strategy)
	if err != nil {
		logger.Warningf("traffic reset (%s) failed: %v", j.strategy, err)
		return
	}

	if len(reset)+len(reactivated) > 0 {
		logger.Infof("periodic traffic reset (%s) completed: %d reset, %d reactivated",
			j.strategy, len(reset), len(reactivated))
	}
}
