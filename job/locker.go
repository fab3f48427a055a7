// Package job provides the recurring jobs of the metering core and the cron
// engine that drives them.
package job

import (
	"fmt"
	"os"
	"time"

	"github.com/relaymeter/relaymeter/database"

	"github.com/google/uuid"
)

// Locker is the store-backed single-flight guard for recurring jobs. Process
// instances do not share memory, so the lock lives in the job_locks table:
// one upsert keyed by job name either takes the lock or leaves it with its
// current holder. Held locks expire after the TTL so a crashed holder
// self-heals.
type Locker struct {
	holder string
	ttl    time.Duration
}

func NewLocker(ttl time.Duration) *Locker {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &Locker{
		holder: fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8]),
		ttl:    ttl,
	}
}

// TryAcquire attempts to take the named lock. It returns false when another
// live holder has it.
func (l *Locker) TryAcquire(name string) (bool, error) {
	now := time.Now()
	res := database.GetDB().Exec(`
		INSERT INTO job_locks (job_name, locked_by, locked_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (job_name) DO UPDATE SET
			locked_by = excluded.locked_by,
			locked_at = excluded.locked_at,
			expires_at = excluded.expires_at
		WHERE job_locks.expires_at <= ?`,
		name, l.holder, now, now.Add(l.ttl), now,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Release frees the named lock if this instance still holds it.
func (l *Locker) Release(name string) error {
	return database.GetDB().Exec(
		`DELETE FROM job_locks WHERE job_name = ? AND locked_by = ?`,
		name, l.holder,
	).Error
}
