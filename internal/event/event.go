package event

type Type string

const (
	TypeSessionInitialized   Type = "session.initialized"
	TypeSessionAuthenticated Type = "session.authenticated"
	TypeSessionRefreshed     Type = "session.refreshed"
	TypeSessionCleared       Type = "session.cleared"
	TypeSessionUserUpdated   Type = "session.user_updated"
	TypeSessionError         Type = "session.error"
	TypeSessionLoading       Type = "session.loading"
)

type Event struct {
	ID        string `json:"id"`
	Type      Type   `json:"type"`
	Payload   any    `json:"payload"`
	Timestamp string `json:"timestamp"`
}

type Bus interface {
	Publish(e Event)
	Subscribe() (<-chan Event, func()) // channel and unsubscribe function
}
