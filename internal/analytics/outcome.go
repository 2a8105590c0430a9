package analytics

import (
	"regexp"
	"strings"

	"queuewatch/internal/classify"
)

// The queue bot announces interview starts and removes finished candidates
// with a kick whose reason encodes the outcome.
var (
	reInterviewing = regexp.MustCompile(`(?i)\bnow\s+interviewing\s+([A-Za-z0-9_\-\[\]\\^{}|` + "`" + `]+)`)
	reKicked       = regexp.MustCompile(`(?i)^\W*([A-Za-z0-9_\-\[\]\\^{}|` + "`" + `]+)\s+(?:was|has been)\s+kicked\b`)
)

// ParseOutcome maps a kick reason to a session outcome kind.
func ParseOutcome(reason string) (string, bool) {
	r := strings.ToLower(reason)
	switch {
	case strings.Contains(r, "congratulations"):
		return EventPassed, true
	case strings.Contains(r, "not passed"):
		return EventFailed, true
	case strings.Contains(r, "missed your interview"):
		return EventMissed, true
	default:
		return "", false
	}
}

// Extract pulls an analytics event out of a cleaned channel line: interview
// starts, and kicks whose reason names an outcome. ok is false for lines
// that carry nothing worth recording.
func Extract(line string) (kind, username string, ok bool) {
	if m := reInterviewing.FindStringSubmatch(line); m != nil {
		return EventStarted, m[1], true
	}
	if m := reKicked.FindStringSubmatch(line); m != nil {
		if outcome, found := ParseOutcome(line); found {
			return outcome, m[1], true
		}
	}
	return "", "", false
}

// Extractor applies Extract to raw channel lines, trusting only the queue
// bot's announcements. Chatter can mimic the phrasing; it must never end up
// as an interview-outcome row.
type Extractor struct {
	bot string
}

func NewExtractor(bot string) *Extractor {
	return &Extractor{bot: strings.TrimSpace(bot)}
}

// FromLine extracts an analytics event from one inbound line. An empty
// author means a server/status line, which is trusted; anything authored by
// someone other than the bot is ignored.
func (x *Extractor) FromLine(author, text string) (kind, username string, ok bool) {
	if author != "" && x.bot != "" && !strings.EqualFold(author, x.bot) {
		return "", "", false
	}
	return Extract(classify.StripControl(text))
}
