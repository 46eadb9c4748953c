package streaming

// EventKind tags entries on the per-session event channel.
type EventKind int

const (
	// EventConfirmed carries words that will never be revised.
	EventConfirmed EventKind = iota
	// EventTentative carries the unstable suffix of the latest pass.
	EventTentative
	// EventError reports a failed pass; the session keeps running.
	EventError
)

// Event is the single message type flowing from the transcriber's driver
// loop to its consumer. Delivering all three variants over one ordered
// channel keeps the confirmed-before-stop ordering guarantee explicit.
type Event struct {
	Kind  EventKind
	Words []string // EventConfirmed
	Text  string   // EventTentative
	Err   error    // EventError
}
