package classify

import "fmt"

// Kind tags a classified line.
type Kind int

const (
	// Unrecognized is the total fallback: any line that matches no pattern,
	// or matches one ambiguously, lands here. It is never an error.
	Unrecognized Kind = iota
	// PositionUpdate carries an authoritative position report from the bot.
	PositionUpdate
	// QueueAdvanced signals that the queue moved (someone started, finished
	// or left), regardless of who moved.
	QueueAdvanced
	// SessionEnded signals that our own session ended.
	SessionEnded
	// Mentioned signals that someone else named us in the channel.
	Mentioned
)

func (k Kind) String() string {
	switch k {
	case PositionUpdate:
		return "position_update"
	case QueueAdvanced:
		return "queue_advanced"
	case SessionEnded:
		return "session_ended"
	case Mentioned:
		return "mentioned"
	default:
		return "unrecognized"
	}
}

// EndReason distinguishes a deliberate self-exit (no recovery) from an
// involuntary one (recovery should be attempted).
type EndReason int

const (
	EndInvoluntary EndReason = iota
	EndVoluntary
)

func (r EndReason) String() string {
	if r == EndVoluntary {
		return "voluntary"
	}
	return "involuntary"
}

// Event is the classified form of one inbound line. It is transient: the
// tracker consumes it and never stores it.
//
// Position/Total use 0 for "unknown"; queue positions are 1-based.
type Event struct {
	Kind     Kind
	Position int
	Total    int
	Reason   EndReason
	From     string // mention author, when the line carried a <nick> prefix
}

func (e Event) String() string {
	switch e.Kind {
	case PositionUpdate:
		return fmt.Sprintf("position_update(%d/%d)", e.Position, e.Total)
	case SessionEnded:
		return "session_ended(" + e.Reason.String() + ")"
	case Mentioned:
		return "mentioned(" + e.From + ")"
	default:
		return e.Kind.String()
	}
}
