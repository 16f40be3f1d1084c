package handle

// Handle is an opaque reference to a value in a table.
// Handle 0 is reserved and always invalid.
type Handle uint32

// Kind tags the type of value a handle refers to.
type Kind uint32

// KindStream marks an ipcf.LockBytes lent to the engine.
const KindStream Kind = 1

func (k Kind) String() string {
	if k == KindStream {
		return "stream"
	}
	return "unknown"
}

// EventType is the lifecycle transition reported to observers.
type EventType uint8

const (
	EventCreated EventType = iota
	EventDropped
)

// Event represents a handle lifecycle event.
type Event struct {
	Value  any
	Handle Handle
	Kind   Kind
	Type   EventType
}

// Observer receives notifications about handle lifecycle events.
type Observer interface {
	OnHandleEvent(Event)
}
