package presence

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"presence/internal/queue"
)

// Event types published after a transition commits.
const (
	EventAdmitted   = "admitted"
	EventReleased   = "released"
	EventRoomOpened = "room_opened"
	EventRoomClosed = "room_closed"
	EventEnrolled   = "enrolled"
)

// Event describes a committed transition for downstream consumers.
type Event struct {
	Type          string    `json:"type"`
	ParticipantID string    `json:"participant_id,omitempty"`
	RoomCode      string    `json:"room_code,omitempty"`
	AdminID       string    `json:"admin_id,omitempty"`
	At            time.Time `json:"at"`
	Record        *Record   `json:"record,omitempty"`
}

// Notifier receives events. Delivery is best effort: a failed publish
// never undoes the transition.
type Notifier interface {
	Notify(ctx context.Context, evt Event)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) {}

// QueueNotifier publishes events as JSON onto a queue.
type QueueNotifier struct {
	q      queue.Queue
	logger *slog.Logger
}

// NewQueueNotifier wraps q.
func NewQueueNotifier(q queue.Queue, logger *slog.Logger) *QueueNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueNotifier{q: q, logger: logger}
}

func (n *QueueNotifier) Notify(ctx context.Context, evt Event) {
	body, err := json.Marshal(evt)
	if err != nil {
		n.logger.Error("encode event", "type", evt.Type, "error", err)
		return
	}
	if err := n.q.Publish(ctx, queue.Message{Type: evt.Type, Body: body}); err != nil {
		n.logger.Warn("queue publish failed", "type", evt.Type, "error", err)
	}
}

// DecodeEvent parses a message produced by QueueNotifier.
func DecodeEvent(msg queue.Message) (Event, error) {
	var evt Event
	if err := json.Unmarshal(msg.Body, &evt); err != nil {
		return Event{}, err
	}
	if evt.Type == "" {
		evt.Type = msg.Type
	}
	return evt, nil
}
