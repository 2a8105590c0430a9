// Package classify turns raw channel lines into typed queue events.
//
// The classifier is deterministic and total: every input yields exactly one
// Event and malformed text can never make it fault. When a line matches
// several patterns, the most informative one wins: a position report already
// implies movement, so it takes priority over advance detection.
package classify

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	// mIRC control/colour codes; stripped before any matching.
	reControl = regexp.MustCompile(`[\x02\x0F\x16\x1F]|\x03\d{0,2}(?:,\d{0,2})?`)

	// Author prefix: optional "[12:34]"-style timestamp, then "<nick>".
	reAuthor = regexp.MustCompile(`^\s*(?:\[\d{1,2}:\d{2}(?::\d{2})?\]\s*)?<([^<>\s]+)>`)

	// Position reports. Two-integer forms in both orders, plus the bot's
	// short "currently #N" form which reports position only.
	rePositionOf = regexp.MustCompile(`(?i)\bposition\s+#?(\d+)\s+(?:of|out\s+of|/)\s+(\d+)`)
	reOrdinalOf  = regexp.MustCompile(`(?i)\b(\d+)(?:st|nd|rd|th)\s+(?:of|out\s+of)\s+(\d+)\b`)
	reTotalFirst = regexp.MustCompile(`(?i)\bqueue\s+of\s+(\d+)\b.*?\b(?:position|you(?:'re| are)(?:\s+now)?(?:\s+at)?)\s+#?(\d+)\b`)
	reCurrently  = regexp.MustCompile(`(?i)\bcurrently\s+#(\d+)\b`)

	// Queue movement.
	reInterviewing = regexp.MustCompile(`(?i)\b(?:now|currently)\s+interviewing\s*:`)
	reInterviewEnd = regexp.MustCompile(`(?i)\binterview\s+(?:started|complete[d]?|finished)\b`)
	reLeftQueue    = regexp.MustCompile(`(?i)\b(?:has\s+)?left\s+the\s+queue\b`)

	// Session disruption.
	reNetsplit    = regexp.MustCompile(`\*\.net\s+\*\.split`)
	reKick        = regexp.MustCompile(`(?i)\b(?:was\s+kicked|kicked\s+by)\b`)
	reYouKicked   = regexp.MustCompile(`(?i)\byou\s+(?:were|have\s+been)\s+kicked\b`)
	rePingTimeout = regexp.MustCompile(`(?i)\b(?:ping\s+timeout|connection\s+reset)\b`)
	reYouLeft     = regexp.MustCompile(`(?i)\byou\s+have\s+left\b`)
	reHasLeft     = regexp.MustCompile(`(?i)\bhas\s+left\b`)
	reQuit        = regexp.MustCompile(`(?i)\bquit\s*:`)
)

// Classifier classifies lines relative to one tracked identity.
// It holds no mutable state; a single instance is safe for concurrent use.
type Classifier struct {
	self      string
	bot       string
	selfRe    *regexp.Regexp
	leaveRe   *regexp.Regexp
	botKickRe *regexp.Regexp
}

// New builds a classifier for the given self identifier (our IRC nick) and
// the nick of the bot that runs the queue. Position and advance phrasing is
// trusted only from the bot or from authorless status lines; an empty bot
// trusts everyone. An empty self disables mention and self-exit detection.
func New(self, bot string) *Classifier {
	c := &Classifier{self: strings.TrimSpace(self), bot: strings.TrimSpace(bot)}
	if c.self != "" {
		quoted := regexp.QuoteMeta(c.self)
		c.selfRe = regexp.MustCompile(`(?i)(?:^|[^\w])` + quoted + `(?:[^\w]|$)`)
		c.leaveRe = regexp.MustCompile(`(?i)^\s*!(?:leave|unqueue)\b`)
	}
	if c.bot != "" {
		c.botKickRe = regexp.MustCompile(`(?i)\bkicked\s+by\s+` + regexp.QuoteMeta(c.bot) + `\b`)
	}
	return c
}

// Classify maps one raw line to exactly one Event. It never panics and
// never guesses: partial or ambiguous numeric extraction yields Unrecognized.
func (c *Classifier) Classify(line string) Event {
	line = StripControl(line)
	if strings.TrimSpace(line) == "" {
		return Event{Kind: Unrecognized}
	}

	author, body := splitAuthor(line)
	selfAuthored := c.self != "" && strings.EqualFold(author, c.self)

	// A deliberate "!leave" typed by us is a voluntary exit even though
	// self-authored lines are otherwise ignored.
	if selfAuthored {
		if c.leaveRe != nil && c.leaveRe.MatchString(body) {
			return Event{Kind: SessionEnded, Reason: EndVoluntary}
		}
		return Event{Kind: Unrecognized}
	}

	fromBot := author == "" || c.bot == "" || strings.EqualFold(author, c.bot)

	if fromBot {
		if ev, ok := c.position(line); ok {
			return ev
		}
	}
	if ev, ok := c.sessionEnd(line, fromBot); ok {
		return ev
	}
	if fromBot && c.advance(line) {
		return Event{Kind: QueueAdvanced}
	}
	if c.mentioned(line) {
		return Event{Kind: Mentioned, From: author}
	}
	return Event{Kind: Unrecognized}
}

// HasKick reports whether the line carries kick phrasing from a trusted
// source, independent of how it classifies. The mass-kick netsplit heuristic
// counts these; chatter quoting a kick must not inflate it.
func (c *Classifier) HasKick(line string) bool {
	line = StripControl(line)
	author, _ := splitAuthor(line)
	if author != "" && c.bot != "" && !strings.EqualFold(author, c.bot) {
		return c.botKicked(line)
	}
	return reKick.MatchString(line)
}

// StripControl removes mIRC colour and formatting codes.
func StripControl(line string) string {
	return reControl.ReplaceAllString(line, "")
}

func (c *Classifier) position(line string) (Event, bool) {
	for _, re := range []*regexp.Regexp{rePositionOf, reOrdinalOf} {
		if m := re.FindStringSubmatch(line); m != nil {
			pos, ok1 := parseCount(m[1])
			total, ok2 := parseCount(m[2])
			if !ok1 || !ok2 {
				return Event{Kind: Unrecognized}, true
			}
			return Event{Kind: PositionUpdate, Position: pos, Total: total}, true
		}
	}
	if m := reTotalFirst.FindStringSubmatch(line); m != nil {
		total, ok1 := parseCount(m[1])
		pos, ok2 := parseCount(m[2])
		if !ok1 || !ok2 {
			return Event{Kind: Unrecognized}, true
		}
		return Event{Kind: PositionUpdate, Position: pos, Total: total}, true
	}
	if m := reCurrently.FindStringSubmatch(line); m != nil {
		pos, ok := parseCount(m[1])
		if !ok {
			return Event{Kind: Unrecognized}, true
		}
		// Position-only report; total stays whatever the tracker knows.
		return Event{Kind: PositionUpdate, Position: pos}, true
	}
	return Event{}, false
}

func (c *Classifier) sessionEnd(line string, fromBot bool) (Event, bool) {
	if reKick.MatchString(line) {
		// Kick phrasing gets the same trust gate as the other movement
		// patterns, except that a line naming the bot as the kicker is the
		// bot's own removal notice regardless of author. Untrusted kick
		// chatter falls through to mention detection.
		if !fromBot && !c.botKicked(line) {
			return Event{}, false
		}
		if c.selfNamed(line) {
			return Event{Kind: SessionEnded, Reason: EndInvoluntary}, true
		}
		// Someone else got kicked out of the interview seat: the queue moved.
		return Event{Kind: QueueAdvanced}, true
	}
	if !fromBot {
		return Event{}, false
	}
	if reNetsplit.MatchString(line) {
		return Event{Kind: SessionEnded, Reason: EndInvoluntary}, true
	}
	if reYouKicked.MatchString(line) {
		return Event{Kind: SessionEnded, Reason: EndInvoluntary}, true
	}
	if rePingTimeout.MatchString(line) {
		if c.selfNamed(line) {
			return Event{Kind: SessionEnded, Reason: EndInvoluntary}, true
		}
		return Event{Kind: Unrecognized}, true
	}
	if reYouLeft.MatchString(line) {
		return Event{Kind: SessionEnded, Reason: EndVoluntary}, true
	}
	if c.selfNamed(line) && (reHasLeft.MatchString(line) || reQuit.MatchString(line)) {
		return Event{Kind: SessionEnded, Reason: EndVoluntary}, true
	}
	return Event{}, false
}

func (c *Classifier) advance(line string) bool {
	return reInterviewing.MatchString(line) ||
		reInterviewEnd.MatchString(line) ||
		reLeftQueue.MatchString(line)
}

func (c *Classifier) mentioned(line string) bool {
	return c.selfNamed(line)
}

func (c *Classifier) selfNamed(line string) bool {
	if c.selfRe == nil {
		return false
	}
	return c.selfRe.MatchString(line)
}

// botKicked reports whether the line names the bot as the kicker.
func (c *Classifier) botKicked(line string) bool {
	if c.botKickRe == nil {
		return false
	}
	return c.botKickRe.MatchString(line)
}

// splitAuthor peels a leading "<nick>" prefix off a channel line.
// Returns ("", line) when the line carries no author.
func splitAuthor(line string) (author, rest string) {
	m := reAuthor.FindStringSubmatch(line)
	if m == nil {
		return "", line
	}
	return m[1], strings.TrimSpace(line[len(m[0]):])
}

// parseCount parses a queue count, rejecting absurd or overflowing values
// rather than guessing.
func parseCount(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 1_000_000 {
		return 0, false
	}
	return n, true
}
