package board

// EventKind names a replay log entry.
type EventKind string

const (
	EventCreate EventKind = "create"
	EventUpdate EventKind = "update"
	EventDelete EventKind = "delete"
	EventClear  EventKind = "clear"
)

// ReplayEvent records one accepted mutation. Object is set for create and
// update; ObjectID for delete.
type ReplayEvent struct {
	Kind      EventKind `json:"kind"`
	Timestamp int64     `json:"ts"`
	Object    *Object   `json:"object,omitempty"`
	ObjectID  string    `json:"objectId,omitempty"`
}

// TargetID returns the id of the object the event is about.
func (e ReplayEvent) TargetID() string {
	if e.Object != nil {
		return e.Object.ID
	}
	return e.ObjectID
}
