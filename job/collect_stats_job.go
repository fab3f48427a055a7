package job

import (
	"time"

	"github.com/relaymeter/relaymeter/logger"
	"github.com/relaymeter/relaymeter/metrics"
	"github.com/relaymeter/relaymeter/service"
)

// CollectStatsJob refreshes the online-user gauge from recent traffic
// reports.
type CollectStatsJob struct {
	usageService *service.UsageService
	metrics      *metrics.Metrics
	onlineWindow time.Duration
}

func NewCollectStatsJob(usageService *service.UsageService, m *metrics.Metrics, onlineWindow time.Duration) *CollectStatsJob {
	return &CollectStatsJob{
		usageService: usageService,
		metrics:      m,
		onlineWindow: onlineWindow,
	}
}

func (j *CollectStatsJob) Run() {
	online, err := j.usageService.CountOnlineUsers(j.onlineWindow)
	if err != nil {
		logger.Warning("online user count failed:", err)
		return
	}
	j.metrics.OnlineUsers.Set(float64(online))
}
