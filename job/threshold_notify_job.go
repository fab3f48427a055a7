package job

import (
	"github.com/relaymeter/relaymeter/logger"
	"github.com/relaymeter/relaymeter/service"
)

// ThresholdNotifyJob scans for users that crossed a configured quota
// percentage and notifies each crossed tier at most once per reset cycle.
type ThresholdNotifyJob struct {
	lifecycleService *service.LifecycleService
	percentages      []int
}

func NewThresholdNotifyJob(lifecycleService *service.LifecycleService, percentages []int) *ThresholdNotifyJob {
	return &ThresholdNotifyJob{
		lifecycleService: lifecycleService,
		percentages:      percentages,
	}
}

// Run executes one threshold pass. Failures are logged and retried by the
// next tick.
func (j *ThresholdNotifyJob) Run() {
	notified, err := j.lifecycleService.ScanThresholds(j.percentages)
	if err != nil {
		logger.Warning("threshold scan failed:", err)
		return
	}
	if len(notified) > 0 {
		logger.Debugf("threshold scan completed, %d users notified", len(notified))
	}
}
