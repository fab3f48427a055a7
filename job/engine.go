package job

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/relaymeter/relaymeter/config"
	"github.com/relaymeter/relaymeter/database/model"
	"github.com/relaymeter/relaymeter/logger"
	"github.com/relaymeter/relaymeter/metrics"
	"github.com/relaymeter/relaymeter/service"
	"github.com/relaymeter/relaymeter/util/common"

	"github.com/robfig/cron/v3"
)

// Engine owns the recurring job runner and the observability listener. One
// engine runs per process; cross-instance single-flight comes from the
// store-backed Locker, in-process overlap protection from the cron chain.
type Engine struct {
	cron       *cron.Cron
	locker     *Locker
	metrics    *metrics.Metrics
	httpServer *http.Server

	usageService     *service.UsageService
	lifecycleService *service.LifecycleService
	resetService     *service.ResetService
	fleetService     *service.FleetService

	ctx    context.Context
	cancel context.CancelFunc
}

func NewEngine(
	usageService *service.UsageService,
	lifecycleService *service.LifecycleService,
	resetService *service.ResetService,
	fleetService *service.FleetService,
	m *metrics.Metrics,
) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		locker:           NewLocker(config.GetJobLockTTL()),
		metrics:          m,
		usageService:     usageService,
		lifecycleService: lifecycleService,
		resetService:     resetService,
		fleetService:     fleetService,
		ctx:              ctx,
		cancel:           cancel,
	}
}

// printfLogger adapts the process logger to cron's Printf-style interface.
type printfLogger struct{}

func (printfLogger) Printf(format string, args ...any) {
	logger.Debugf(format, args...)
}

// Start schedules all recurring jobs and begins serving metrics.
func (e *Engine) Start() (err error) {
	defer func() {
		if err != nil {
			_ = e.Stop()
		}
	}()

	cronLog := cron.PrintfLogger(printfLogger{})
	e.cron = cron.New(
		cron.WithLocation(config.GetTimeLocation()),
		cron.WithChain(cron.Recover(cronLog), cron.DelayIfStillRunning(cronLog)),
	)

	e.startTask()
	e.cron.Start()

	return e.startMetricsServer()
}

// startTask registers the recurring jobs. Every job name is single-flight
// across process instances via the store-backed lock.
func (e *Engine) startTask() {
	thresholds := config.GetThresholds()

	// Lifecycle scans; a user's status may lag a fresh report by up to one
	// scan interval, which is the accepted staleness bound.
	e.addJob("@every 1m", "threshold_notify", NewThresholdNotifyJob(e.lifecycleService, thresholds))
	e.addJob("@every 1m", "user_status_scan", NewUserStatusJob(e.lifecycleService))

	// Periodic traffic resets on their calendar boundaries.
	e.addJob("@daily", "traffic_reset_day", NewPeriodicTrafficResetJob(e.resetService, model.ResetDay))
	e.addJob(fmt.Sprintf("0 0 * * %d", config.GetWeeklyResetDay()), "traffic_reset_week",
		NewPeriodicTrafficResetJob(e.resetService, model.ResetWeek))
	e.addJob(fmt.Sprintf("0 0 %d * *", config.GetMonthlyResetDay()), "traffic_reset_month",
		NewPeriodicTrafficResetJob(e.resetService, model.ResetMonth))

	// Node-scoped billing counters reset on each node's own day-of-month.
	e.addJob("@daily", "node_counter_reset", NewNodeCounterResetJob(e.resetService))

	// Fleet connectivity and node quota notifications.
	e.addJob("@every 30s", "node_health", NewCheckNodeHealthJob(e.ctx, e.fleetService))
	e.addJob("@every 5m", "node_traffic_notify", NewNodeTrafficNotifyJob(e.fleetService))

	e.addJob("@every 1m", "collect_stats", NewCollectStatsJob(e.usageService, e.metrics, config.GetOnlineWindow()))
}

func (e *Engine) addJob(spec, name string, inner cron.Job) {
	if _, err := e.cron.AddJob(spec, &lockedJob{
		name:    name,
		locker:  e.locker,
		metrics: e.metrics,
		inner:   inner,
	}); err != nil {
		logger.Errorf("failed to schedule job %s (%s): %v", name, spec, err)
	}
}

func (e *Engine) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	e.httpServer = &http.Server{
		Addr:    config.GetMetricsListen(),
		Handler: mux,
	}
	go func() {
		defer common.Recover("metrics server")
		if err := e.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed:", err)
		}
	}()
	logger.Info("metrics server listening on", config.GetMetricsListen())
	return nil
}

// Stop halts the scheduler and the metrics listener. Running jobs finish
// their current pass.
func (e *Engine) Stop() error {
	e.cancel()
	var cronErr, httpErr error
	if e.cron != nil {
		<-e.cron.Stop().Done()
	}
	if e.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpErr = e.httpServer.Shutdown(shutdownCtx)
	}
	return common.Combine(cronErr, httpErr)
}

// GetCtx returns the engine's context.
func (e *Engine) GetCtx() context.Context { return e.ctx }

// GetCron returns the engine's cron scheduler instance.
func (e *Engine) GetCron() *cron.Cron { return e.cron }

// lockedJob guards one named job with the cross-instance lock. A tick that
// cannot take the lock is skipped; the holder's run covers it.
type lockedJob struct {
	name    string
	locker  *Locker
	metrics *metrics.Metrics
	inner   cron.Job
}

func (j *lockedJob) Run() {
	acquired, err := j.locker.TryAcquire(j.name)
	if err != nil {
		logger.Warningf("job %s: lock acquire failed: %v", j.name, err)
		j.metrics.JobRuns.WithLabelValues(j.name, "lock_error").Inc()
		return
	}
	if !acquired {
		logger.Debugf("job %s: held by another instance, skipping tick", j.name)
		j.metrics.JobRuns.WithLabelValues(j.name, "skipped").Inc()
		return
	}
	defer func() {
		if err := j.locker.Release(j.name); err != nil {
			logger.Warningf("job %s: lock release failed: %v", j.name, err)
		}
	}()

	j.inner.Run()
	j.metrics.JobRuns.WithLabelValues(j.name, "ok").Inc()
}
