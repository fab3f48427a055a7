// Package service provides the business logic of the metering core: usage
// aggregation, lifecycle scans, traffic resets and fleet coordination.
package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/relaymeter/relaymeter/database"
	"github.com/relaymeter/relaymeter/database/model"
	"github.com/relaymeter/relaymeter/logger"
	"github.com/relaymeter/relaymeter/metrics"
	"github.com/relaymeter/relaymeter/util/common"

	"github.com/patrickmn/go-cache"
	"gorm.io/gorm"
)

var (
	ErrNegativeDelta   = errors.New("bytes delta must be non-negative")
	ErrUnknownUser     = errors.New("unknown user uuid")
	ErrUnknownNode     = errors.New("unknown node uuid")
	ErrDuplicateReport = errors.New("duplicate usage report")
	ErrEmptyBatch      = errors.New("empty usage batch")
)

// UsageEntry is one per-user traffic delta inside an ingestion batch.
type UsageEntry struct {
	UserUUID   string `json:"userUuid"`
	BytesDelta int64  `json:"bytesDelta"`
}

// RangeUsage is an aggregated per-(node, user) total over a time range.
type RangeUsage struct {
	NodeUUID   string `json:"nodeUuid"`
	UserUUID   string `json:"userUuid"`
	TotalBytes int64  `json:"totalBytes"`
}

// NodeRate is an instantaneous per-node transfer rate computed between two
// realtime samples.
type NodeRate struct {
	NodeUUID   string  `json:"nodeUuid"`
	TotalBytes int64   `json:"totalBytes"`
	SpeedBps   float64 `json:"speedBps"`
}

type rateSample struct {
	totalBytes int64
	takenAt    time.Time
}

// UsageService is the usage aggregator. It applies batched per-user traffic
// increments atomically and answers range/realtime aggregation queries.
type UsageService struct {
	metrics *metrics.Metrics
	samples *cache.Cache
}

func NewUsageService(m *metrics.Metrics) *UsageService {
	return &UsageService{
		metrics: m,
		samples: cache.New(10*time.Minute, 10*time.Minute),
	}
}

// ApplyUsageBatch applies one reported batch from a node agent as a single
// transaction: every entry increments the user's resettable and lifetime
// counters, stamps onlineAt, and appends one history record. Any unknown uuid
// or negative delta discards the whole batch; the agent re-reports it on its
// next polling cycle (at-least-once). A non-empty reportID is an idempotency
// token: a batch already recorded under the same (node, reportID) is rejected
// whole.
func (s *UsageService) ApplyUsageBatch(nodeUUID, reportID string, entries []UsageEntry) (int64, error) {
	if len(entries) == 0 {
		return 0, ErrEmptyBatch
	}
	for _, entry := range entries {
		if entry.BytesDelta < 0 {
			return 0, fmt.Errorf("%w: user %s reported %d", ErrNegativeDelta, entry.UserUUID, entry.BytesDelta)
		}
	}

	now := time.Now()
	var affected int64
	var batchBytes int64

	db := database.GetDB()
	err := db.Transaction(func(tx *gorm.DB) error {
		var node model.Node
		if err := tx.Where("uuid = ?", nodeUUID).First(&node).Error; err != nil {
			if database.IsNotFound(err) {
				return fmt.Errorf("%w: %s", ErrUnknownNode, nodeUUID)
			}
			return err
		}

		if reportID != "" {
			// The unique index on (node_uuid, report_id) backs this check
			// against concurrent writers; a race still fails the batch.
			var seen int64
			if err := tx.Model(&model.UsageReport{}).
				Where("node_uuid = ? AND report_id = ?", nodeUUID, reportID).
				Count(&seen).Error; err != nil {
				return err
			}
			if seen > 0 {
				return fmt.Errorf("%w: node %s report %s", ErrDuplicateReport, nodeUUID, reportID)
			}
			report := model.UsageReport{NodeUUID: nodeUUID, ReportID: reportID, ReceivedAt: now}
			if err := tx.Create(&report).Error; err != nil {
				return err
			}
		}

		records := make([]model.UsageHistoryRecord, 0, len(entries))
		for _, entry := range entries {
			res := tx.Model(&model.User{}).
				Where("uuid = ?", entry.UserUUID).
				Updates(map[string]any{
					"used_traffic_bytes":          gorm.Expr("used_traffic_bytes + ?", entry.BytesDelta),
					"lifetime_used_traffic_bytes": gorm.Expr("lifetime_used_traffic_bytes + ?", entry.BytesDelta),
					"online_at":                   now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("%w: %s", ErrUnknownUser, entry.UserUUID)
			}
			affected += res.RowsAffected
			batchBytes += entry.BytesDelta

			records = append(records, model.UsageHistoryRecord{
				NodeUUID:   nodeUUID,
				UserUUID:   entry.UserUUID,
				BytesDelta: entry.BytesDelta,
				RecordedAt: now,
			})
		}

		if node.IsTrafficTrackingActive && batchBytes > 0 {
			err := tx.Model(&model.Node{}).
				Where("uuid = ?", nodeUUID).
				Update("used_traffic_bytes", gorm.Expr("used_traffic_bytes + ?", batchBytes)).Error
			if err != nil {
				return err
			}
		}

		return tx.Create(&records).Error
	})
	if err != nil {
		return 0, err
	}

	if s.metrics != nil {
		s.metrics.IngestedBytes.Add(float64(batchBytes))
	}
	logger.Debugf("applied usage batch from node %s: %d entries, %s", nodeUUID, affected, common.FormatTraffic(batchBytes))
	return affected, nil
}

// UsageByRange aggregates history records into per-(node, user) totals over
// [start, end). Read-only.
func (s *UsageService) UsageByRange(start, end time.Time) ([]RangeUsage, error) {
	db := database.GetDB()
	var rows []RangeUsage
	err := db.Model(&model.UsageHistoryRecord{}).
		Select("node_uuid, user_uuid, SUM(bytes_delta) AS total_bytes").
		Where("recorded_at >= ? AND recorded_at < ?", start, end).
		Group("node_uuid, user_uuid").
		Order("node_uuid, user_uuid").
		Scan(&rows).Error
	return rows, err
}

// RealtimeUsage returns the current per-node totals and the transfer rate
// since the previous call. The first sample for a node reports a zero rate.
func (s *UsageService) RealtimeUsage() ([]NodeRate, error) {
	db := database.GetDB()
	now := time.Now()

	type nodeTotal struct {
		NodeUUID   string
		TotalBytes int64
	}
	var totals []nodeTotal
	err := db.Model(&model.UsageHistoryRecord{}).
		Select("node_uuid, SUM(bytes_delta) AS total_bytes").
		Group("node_uuid").
		Order("node_uuid").
		Scan(&totals).Error
	if err != nil {
		return nil, err
	}

	rates := make([]NodeRate, 0, len(totals))
	for _, total := range totals {
		rate := NodeRate{NodeUUID: total.NodeUUID, TotalBytes: total.TotalBytes}
		if prev, ok := s.samples.Get(total.NodeUUID); ok {
			sample := prev.(rateSample)
			elapsed := now.Sub(sample.takenAt).Seconds()
			if elapsed > 0 && total.TotalBytes >= sample.totalBytes {
				rate.SpeedBps = float64(total.TotalBytes-sample.totalBytes) / elapsed
			}
		}
		s.samples.Set(total.NodeUUID, rateSample{totalBytes: total.TotalBytes, takenAt: now}, cache.DefaultExpiration)
		rates = append(rates, rate)
	}
	return rates, nil
}

// CountOnlineUsers counts users whose last traffic report falls inside the
// online window.
func (s *UsageService) CountOnlineUsers(window time.Duration) (int64, error) {
	db := database.GetDB()
	var count int64
	err := db.Model(&model.User{}).
		Where("online_at IS NOT NULL AND online_at > ?", time.Now().Add(-window)).
		Count(&count).Error
	return count, err
}
