package ports

import "context"

// Session event kinds published for external observers (bots, dashboards).
const (
	SessionEventAuthenticated   = "authenticated"
	SessionEventLoggedOut       = "logged_out"
	SessionEventReconnectFailed = "reconnect_failed"
)

// EventPublisher publishes session lifecycle events to notify other processes.
type EventPublisher interface {
	PublishSessionEvent(ctx context.Context, kind, wallet string) error
}
