package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/relaymeter/relaymeter/database"
	"github.com/relaymeter/relaymeter/database/model"
	"github.com/relaymeter/relaymeter/event"
	"github.com/relaymeter/relaymeter/logger"

	"gorm.io/gorm"
)

var ErrUnschedulableStrategy = errors.New("strategy has no scheduled reset")

// ResetService zeroes usage counters on their calendar cadence. Every reset
// archives the prior counter value in the same transaction (archive-then-zero)
// and clears lastTriggeredThreshold so threshold notifications recur each
// cycle.
type ResetService struct {
	notifier event.Notifier
}

func NewResetService(notifier event.Notifier) *ResetService {
	return &ResetService{notifier: notifier}
}

// ResetUsersByStrategy resets every user whose trafficLimitStrategy matches
// and is not currently LIMITED. LIMITED users go through the reactivation
// variant instead, so a paired scheduled run archives each user exactly once.
// Returns the uuids of reset users.
func (s *ResetService) ResetUsersByStrategy(strategy model.ResetStrategy) ([]string, error) {
	return s.reset(strategy, false)
}

// ResetLimitedUsersByStrategy is the reactivation variant: scoped to
// currently LIMITED users matching the strategy, and the LIMITED -> ACTIVE
// flip happens in the same atomic statement that zeroes the counter. Callers
// relying on a reset to lift a quota block get both or neither.
func (s *ResetService) ResetLimitedUsersByStrategy(strategy model.ResetStrategy) ([]string, error) {
	return s.reset(strategy, true)
}

func (s *ResetService) reset(strategy model.ResetStrategy, onlyLimited bool) ([]string, error) {
	if !strategy.Schedulable() {
		return nil, fmt.Errorf("%w: %s", ErrUnschedulableStrategy, strategy)
	}

	now := time.Now()
	var uuids []string

	db := database.GetDB()
	err := db.Transaction(func(tx *gorm.DB) error {
		archiveSQL := `
			INSERT INTO traffic_reset_archives (user_uuid, used_bytes_at_reset, reset_at)
			SELECT uuid, used_traffic_bytes, ? FROM users
			WHERE traffic_limit_strategy = ?`
		archiveArgs := []any{now, strategy}
		if onlyLimited {
			archiveSQL += ` AND status = ?`
		} else {
			archiveSQL += ` AND status <> ?`
		}
		archiveArgs = append(archiveArgs, model.UserLimited)
		if err := tx.Exec(archiveSQL, archiveArgs...).Error; err != nil {
			return err
		}

		resetSQL := `
			UPDATE users SET
				used_traffic_bytes = 0,
				last_triggered_threshold = 0,
				last_traffic_reset_at = ?,
				updated_at = ?`
		resetArgs := []any{now, now}
		if onlyLimited {
			resetSQL += `, status = ?`
			resetArgs = append(resetArgs, model.UserActive)
		}
		resetSQL += ` WHERE traffic_limit_strategy = ?`
		resetArgs = append(resetArgs, strategy)
		if onlyLimited {
			resetSQL += ` AND status = ?`
		} else {
			resetSQL += ` AND status <> ?`
		}
		resetArgs = append(resetArgs, model.UserLimited)
		resetSQL += ` RETURNING uuid`

		return tx.Raw(resetSQL, resetArgs...).Scan(&uuids).Error
	})
	if err != nil {
		return nil, err
	}

	for _, uuid := range uuids {
		if s.notifier != nil {
			s.notifier.Notify(event.Event{Name: event.UserTrafficReset, UserUUID: uuid, At: now})
		}
	}
	if len(uuids) > 0 {
		logger.Infof("traffic reset (%s, limitedOnly=%v) archived and zeroed %d users", strategy, onlyLimited, len(uuids))
	}
	return uuids, nil
}

// ResetNodeCountersForDay zeroes node-scoped counters for nodes whose billing
// day matches. On the last day of a month it also covers reset days the month
// never reaches.
func (s *ResetService) ResetNodeCountersForDay(now time.Time) ([]string, error) {
	day := now.Day()
	lastOfMonth := now.AddDate(0, 0, 1).Day() == 1

	db := database.GetDB()
	var uuids []string

	query := `
		UPDATE nodes SET used_traffic_bytes = 0, traffic_notified = ?, updated_at = ?
		WHERE traffic_reset_day = ?`
	args := []any{false, now, day}
	if lastOfMonth {
		query = `
		UPDATE nodes SET used_traffic_bytes = 0, traffic_notified = ?, updated_at = ?
		WHERE traffic_reset_day >= ?`
	}
	query += ` RETURNING uuid`

	if err := db.Raw(query, args...).Scan(&uuids).Error; err != nil {
		return nil, err
	}
	if len(uuids) > 0 {
		logger.Infof("node counter reset zeroed %d nodes for day %d", len(uuids), day)
	}
	return uuids, nil
}
