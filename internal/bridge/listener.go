package bridge

import (
	"github.com/bolasblack/settingsync/internal/extension"
	"github.com/bolasblack/settingsync/internal/settingslog"
	"github.com/bolasblack/settingsync/internal/snapshot"
)

// NotificationKind classifies a Notification.
type NotificationKind string

const (
	NotifyPushed   NotificationKind = "pushed"
	NotifyApplied  NotificationKind = "applied"
	NotifyConflict NotificationKind = "conflict"
	NotifyFailure  NotificationKind = "failure"
)

// Notification reports the outcome of a sync step.
type Notification struct {
	Kind      NotificationKind
	Entry     settingslog.Entry
	Version   string
	Conflicts []snapshot.Conflict
	Err       error
}

// Listener observes the bridge.
type Listener interface {
	Notify(n Notification)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(n Notification)

func (f ListenerFunc) Notify(n Notification) { f(n) }

// ListenerPoint is where listeners are registered.
var ListenerPoint = extension.NewPoint[Listener]("bridge.listeners")
