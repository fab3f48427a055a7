package model

import (
	"time"
)

// UserStatus is the lifecycle state of a subscriber account. DISABLED is
// administrative and overrides the automatic states.
type UserStatus string

const (
	UserActive   UserStatus = "ACTIVE"
	UserLimited  UserStatus = "LIMITED"
	UserExpired  UserStatus = "EXPIRED"
	UserDisabled UserStatus = "DISABLED"
)

func (s UserStatus) Valid() bool {
	switch s {
	case UserActive, UserLimited, UserExpired, UserDisabled:
		return true
	}
	return false
}

// ResetStrategy selects which recurring reset job zeroes a user's counter.
type ResetStrategy string

const (
	ResetNever ResetStrategy = "NO_RESET"
	ResetDay   ResetStrategy = "DAY"
	ResetWeek  ResetStrategy = "WEEK"
	ResetMonth ResetStrategy = "MONTH"
)

func (s ResetStrategy) Valid() bool {
	switch s {
	case ResetNever, ResetDay, ResetWeek, ResetMonth:
		return true
	}
	return false
}

// Schedulable reports whether a recurring reset job exists for the strategy.
func (s ResetStrategy) Schedulable() bool {
	return s == ResetDay || s == ResetWeek || s == ResetMonth
}

// NodeStatus is the connectivity state of a relay node. DISABLED is an
// administrative override that suppresses health-driven transitions.
type NodeStatus string

const (
	NodeConnected    NodeStatus = "CONNECTED"
	NodeDisconnected NodeStatus = "DISCONNECTED"
	NodeDisabled     NodeStatus = "DISABLED"
)

func (s NodeStatus) Valid() bool {
	switch s {
	case NodeConnected, NodeDisconnected, NodeDisabled:
		return true
	}
	return false
}

// User is a subscriber account with a traffic quota and expiry policy.
type User struct {
	UUID                     string        `json:"uuid" gorm:"primaryKey;size:36"`
	Status                   UserStatus    `json:"status" gorm:"index;default:ACTIVE"`
	UsedTrafficBytes         int64         `json:"usedTrafficBytes" gorm:"default:0"`
	LifetimeUsedTrafficBytes int64         `json:"lifetimeUsedTrafficBytes" gorm:"default:0"`
	TrafficLimitBytes        int64         `json:"trafficLimitBytes" gorm:"default:0"`
	TrafficLimitStrategy     ResetStrategy `json:"trafficLimitStrategy" gorm:"index;default:NO_RESET"`
	LastTrafficResetAt       *time.Time    `json:"lastTrafficResetAt"`
	LastTriggeredThreshold   int           `json:"lastTriggeredThreshold" gorm:"default:0"`
	ExpireAt                 *time.Time    `json:"expireAt"`
	OnlineAt                 *time.Time    `json:"onlineAt"`
	CreatedAt                time.Time     `json:"createdAt"`
	UpdatedAt                time.Time     `json:"updatedAt"`
}

// Node is a relay node running a remote agent.
type Node struct {
	UUID                    string     `json:"uuid" gorm:"primaryKey;size:36"`
	Name                    string     `json:"name"`
	Address                 string     `json:"address"`
	Status                  NodeStatus `json:"status" gorm:"index;default:DISCONNECTED"`
	IsTrafficTrackingActive bool       `json:"isTrafficTrackingActive" gorm:"default:false"`
	TrafficLimitBytes       int64      `json:"trafficLimitBytes" gorm:"default:0"`
	UsedTrafficBytes        int64      `json:"usedTrafficBytes" gorm:"default:0"`
	TrafficResetDay         int        `json:"trafficResetDay" gorm:"default:1"`
	NotifyPercent           int        `json:"notifyPercent" gorm:"default:0"`
	TrafficNotified         bool       `json:"-" gorm:"default:false"`
	ViewPosition            int        `json:"viewPosition" gorm:"default:0"`
	ConsecutiveFails        int        `json:"-" gorm:"default:0"`
	LastSeenAt              *time.Time `json:"lastSeenAt"`
	CreatedAt               time.Time  `json:"createdAt"`
	UpdatedAt               time.Time  `json:"updatedAt"`
}

// UsageHistoryRecord is the append-only audit trail of per-user traffic
// deltas as reported by node agents. Rows are written once and never updated.
type UsageHistoryRecord struct {
	Id         int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	NodeUUID   string    `json:"nodeUuid" gorm:"index;size:36"`
	UserUUID   string    `json:"userUuid" gorm:"index;size:36"`
	BytesDelta int64     `json:"bytesDelta"`
	RecordedAt time.Time `json:"recordedAt" gorm:"index"`
}

// UsageReport marks one ingested report batch per (node, reportID). The unique
// index rejects a whole duplicate batch when the caller supplies an
// idempotency token.
type UsageReport struct {
	Id         int64     `gorm:"primaryKey;autoIncrement"`
	NodeUUID   string    `gorm:"size:36;uniqueIndex:idx_node_report"`
	ReportID   string    `gorm:"size:36;uniqueIndex:idx_node_report"`
	ReceivedAt time.Time
}

// TrafficResetArchive records a user's counter value at the moment it was
// zeroed. Written atomically with every reset.
type TrafficResetArchive struct {
	Id               int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	UserUUID         string    `json:"userUuid" gorm:"index;size:36"`
	UsedBytesAtReset int64     `json:"usedBytesAtReset"`
	ResetAt          time.Time `json:"resetAt" gorm:"index"`
}

// JobLock is the store-backed single-flight marker for recurring jobs.
// A row whose ExpiresAt has passed counts as released, so a crashed holder
// self-heals.
type JobLock struct {
	JobName   string `gorm:"primaryKey"`
	LockedBy  string
	LockedAt  time.Time
	ExpiresAt time.Time
}
