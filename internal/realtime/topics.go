package realtime

import (
	"strings"

	"github.com/google/uuid"
)

const (
	EventOrderNew          = "order:new"
	EventOrderUpdate       = "order:update"
	EventOrderTrack        = "order:track"
	EventAppointmentNew    = "appointment:new"
	EventAppointmentUpdate = "appointment:update"
)

const (
	orderPrefix = "order:"
	userPrefix  = "user:"
)

// Publisher is the fan-out contract injected into every component that
// emits state changes. Publish never blocks on slow consumers and never
// reports failure to the caller.
type Publisher interface {
	Publish(topic, event string, payload any)
}

func OrderTopic(id uuid.UUID) string { return orderPrefix + id.String() }

func UserTopic(id uuid.UUID) string { return userPrefix + id.String() }

// CanJoin reports whether a connection owned by userID may subscribe to
// topic. User topics are private to their owner and administrators; order
// topics are keyed by unguessable ids and open to any authenticated
// connection.
func CanJoin(userID uuid.UUID, admin bool, topic string) bool {
	switch {
	case strings.HasPrefix(topic, userPrefix):
		id, err := uuid.Parse(strings.TrimPrefix(topic, userPrefix))
		if err != nil {
			return false
		}
		return admin || id == userID
	case strings.HasPrefix(topic, orderPrefix):
		_, err := uuid.Parse(strings.TrimPrefix(topic, orderPrefix))
		return err == nil
	default:
		return false
	}
}
