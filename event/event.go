// Package event defines the lifecycle and connectivity events the metering
// core emits toward the external notification collaborator.
package event

import (
	"time"

	"github.com/relaymeter/relaymeter/logger"
)

type Name string

const (
	UserLimited           Name = "user.limited"
	UserExpired           Name = "user.expired"
	UserTrafficReset      Name = "user.traffic_reset"
	UserTrafficReached    Name = "user.traffic_reached"
	NodeConnectionLost    Name = "node.connection_lost"
	NodeConnectionRestore Name = "node.connection_restored"
	NodeRestarted         Name = "node.restarted"
	NodeTrafficNotify     Name = "node.traffic_notify"
)

// Event carries the identifying fields of the affected entity. Delivery and
// formatting are the notifier's concern.
type Event struct {
	Name      Name      `json:"name"`
	UserUUID  string    `json:"userUuid,omitempty"`
	NodeUUID  string    `json:"nodeUuid,omitempty"`
	Threshold int       `json:"threshold,omitempty"`
	Bytes     int64     `json:"bytes,omitempty"`
	At        time.Time `json:"at"`
}

// Notifier is the collaborator that delivers events to subscribers
// (chat, webhook). Implementations must not block the caller for long;
// the core treats Notify as fire-and-forget.
type Notifier interface {
	Notify(e Event)
}

// LogNotifier writes events to the process log. It is the default sink when
// no external notifier is wired in.
type LogNotifier struct{}

func (LogNotifier) Notify(e Event) {
	switch {
	case e.UserUUID != "" && e.Threshold > 0:
		logger.Infof("event %s user=%s threshold=%d%%", e.Name, e.UserUUID, e.Threshold)
	case e.UserUUID != "":
		logger.Infof("event %s user=%s", e.Name, e.UserUUID)
	default:
		logger.Infof("event %s node=%s", e.Name, e.NodeUUID)
	}
}
