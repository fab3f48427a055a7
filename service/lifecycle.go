package service

import (
	"sort"
	"time"

	"github.com/relaymeter/relaymeter/database"
	"github.com/relaymeter/relaymeter/database/model"
	"github.com/relaymeter/relaymeter/event"
	"github.com/relaymeter/relaymeter/logger"
)

// thresholdScanLimit caps how many users a single threshold pass may mark,
// ordered by account age so repeated scans stay fair.
const thresholdScanLimit = 5000

// LifecycleService detects quota-threshold crossings and expiry/limit
// conditions and drives the automatic user status transitions. ACTIVE is the
// only state scans transition out of; DISABLED is sticky.
type LifecycleService struct {
	notifier event.Notifier

	// BatchLimit bounds the candidate set of one threshold pass.
	BatchLimit int
}

func NewLifecycleService(notifier event.Notifier) *LifecycleService {
	return &LifecycleService{
		notifier:   notifier,
		BatchLimit: thresholdScanLimit,
	}
}

// ScanThresholds marks and notifies users whose used-traffic ratio crossed a
// configured percentage tier since the last scan. Each UPDATE both selects
// the candidates and advances lastTriggeredThreshold, so concurrent scans
// cannot notify the same tier twice. Percentages are walked highest first:
// a user past several tiers is notified once, for the highest one.
func (s *LifecycleService) ScanThresholds(percentages []int) ([]string, error) {
	if len(percentages) == 0 {
		return nil, nil
	}
	sorted := append([]int(nil), percentages...)
	sort.Ints(sorted)

	db := database.GetDB()
	now := time.Now()
	var notified []string

	for i := len(sorted) - 1; i >= 0; i-- {
		pct := sorted[i]
		if pct <= 0 {
			continue
		}
		var uuids []string
		err := db.Raw(`
			UPDATE users SET last_triggered_threshold = ?, updated_at = ?
			WHERE uuid IN (
				SELECT uuid FROM users
				WHERE status = ?
				  AND traffic_limit_bytes > 0
				  AND used_traffic_bytes * 100 >= traffic_limit_bytes * ?
				  AND last_triggered_threshold < ?
				ORDER BY created_at
				LIMIT ?
			)
			RETURNING uuid`,
			pct, now, model.UserActive, pct, pct, s.BatchLimit,
		).Scan(&uuids).Error
		if err != nil {
			return notified, err
		}

		for _, uuid := range uuids {
			notified = append(notified, uuid)
			s.notify(event.Event{
				Name:      event.UserTrafficReached,
				UserUUID:  uuid,
				Threshold: pct,
				At:        now,
			})
		}
	}

	if len(notified) > 0 {
		logger.Infof("threshold scan notified %d users", len(notified))
	}
	return notified, nil
}

// ScanExpiredUsers transitions ACTIVE users whose expiry has passed to
// EXPIRED and emits one user.expired event per transition.
func (s *LifecycleService) ScanExpiredUsers() ([]string, error) {
	db := database.GetDB()
	now := time.Now()

	var uuids []string
	err := db.Raw(`
		UPDATE users SET status = ?, updated_at = ?
		WHERE status = ? AND expire_at IS NOT NULL AND expire_at <= ?
		RETURNING uuid`,
		model.UserExpired, now, model.UserActive, now,
	).Scan(&uuids).Error
	if err != nil {
		return nil, err
	}

	for _, uuid := range uuids {
		s.notify(event.Event{Name: event.UserExpired, UserUUID: uuid, At: now})
	}
	if len(uuids) > 0 {
		logger.Infof("expiry scan transitioned %d users to EXPIRED", len(uuids))
	}
	return uuids, nil
}

// ScanExceededUsers transitions ACTIVE users at or over their traffic quota
// to LIMITED and emits one user.limited event per transition.
func (s *LifecycleService) ScanExceededUsers() ([]string, error) {
	db := database.GetDB()
	now := time.Now()

	var uuids []string
	err := db.Raw(`
		UPDATE users SET status = ?, updated_at = ?
		WHERE status = ? AND traffic_limit_bytes > 0 AND used_traffic_bytes >= traffic_limit_bytes
		RETURNING uuid`,
		model.UserLimited, now, model.UserActive,
	).Scan(&uuids).Error
	if err != nil {
		return nil, err
	}

	for _, uuid := range uuids {
		s.notify(event.Event{Name: event.UserLimited, UserUUID: uuid, At: now})
	}
	if len(uuids) > 0 {
		logger.Infof("exceeded scan transitioned %d users to LIMITED", len(uuids))
	}
	return uuids, nil
}

func (s *LifecycleService) notify(e event.Event) {
	if s.notifier != nil {
		s.notifier.Notify(e)
	}
}
