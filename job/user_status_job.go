package job

import (
	"github.com/relaymeter/relaymeter/logger"
	"github.com/relaymeter/relaymeter/service"
)

// UserStatusJob runs the expiry and exceeded scans, moving ACTIVE users to
// EXPIRED or LIMITED when their expiry or quota condition holds.
type UserStatusJob struct {
	lifecycleService *service.LifecycleService
}

func NewUserStatusJob(lifecycleService *service.LifecycleService) *UserStatusJob {
	return &UserStatusJob{lifecycleService: lifecycleService}
}

func (j *UserStatusJob) Run() {
	if _, err := j.lifecycleService.ScanExpiredUsers(); err != nil {
		logger.Warning("expired user scan failed:", err)
	}
	if _, err := j.lifecycleService.ScanExceededUsers(); err != nil {
		logger.Warning("exceeded user scan failed:", err)
	}
}
