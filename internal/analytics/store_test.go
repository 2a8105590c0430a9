package analytics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "queuewatch/pkg/logx"
)

var base = time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "events.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestAppendAndTotals(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	events := []Event{
		{At: base, Kind: EventStarted, Username: "alice"},
		{At: base.Add(20 * time.Minute), Kind: EventPassed, Username: "alice", Message: "Congratulations!"},
		{At: base.Add(time.Hour), Kind: EventStarted, Username: "bob"},
		{At: base.Add(90 * time.Minute), Kind: EventFailed, Username: "bob"},
		{At: base.Add(2 * time.Hour), Kind: EventAdvance},
	}
	for i, e := range events {
		stored, err := st.Append(ctx, e)
		if err != nil || !stored {
			t.Fatalf("Append %d: stored=%v err=%v", i, stored, err)
		}
	}

	totals, err := st.Totals(ctx, base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	want := map[string]int{EventStarted: 2, EventPassed: 1, EventFailed: 1, EventAdvance: 1}
	for k, n := range want {
		if totals[k] != n {
			t.Fatalf("totals[%s] = %d, want %d (all: %v)", k, totals[k], n, totals)
		}
	}

	// Cutoff excludes the early events.
	totals, err = st.Totals(ctx, base.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	if totals[EventStarted] != 1 || totals[EventPassed] != 0 {
		t.Fatalf("windowed totals = %v", totals)
	}
}

func TestDuplicateSuppression(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if stored, err := st.Append(ctx, Event{At: base, Kind: EventStarted, Username: "alice"}); err != nil || !stored {
		t.Fatalf("first append: stored=%v err=%v", stored, err)
	}
	// Same user and kind 6 hours later sits inside the 12h window.
	if stored, err := st.Append(ctx, Event{At: base.Add(6 * time.Hour), Kind: EventStarted, Username: "alice"}); err != nil || stored {
		t.Fatalf("duplicate inside window: stored=%v err=%v", stored, err)
	}
	// Different kind for the same user is not a duplicate.
	if stored, err := st.Append(ctx, Event{At: base.Add(time.Hour), Kind: EventPassed, Username: "alice"}); err != nil || !stored {
		t.Fatalf("different kind: stored=%v err=%v", stored, err)
	}
	// Outside the window it records again.
	if stored, err := st.Append(ctx, Event{At: base.Add(25 * time.Hour), Kind: EventStarted, Username: "alice"}); err != nil || !stored {
		t.Fatalf("outside window: stored=%v err=%v", stored, err)
	}
	// Anonymous advance events are never deduplicated.
	for i := 0; i < 3; i++ {
		if stored, err := st.Append(ctx, Event{At: base, Kind: EventAdvance}); err != nil || !stored {
			t.Fatalf("advance %d: stored=%v err=%v", i, stored, err)
		}
	}
}

func TestBusiestHour(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	hours := []int{9, 14, 14, 14, 20, 20}
	for i, h := range hours {
		e := Event{At: day.Add(time.Duration(h) * time.Hour), Kind: EventStarted, Username: "u" + string(rune('a'+i))}
		if stored, err := st.Append(ctx, e); err != nil || !stored {
			t.Fatalf("append hour %d: stored=%v err=%v", h, stored, err)
		}
	}

	hour, count, ok, err := st.BusiestHour(ctx, EventStarted, day)
	if err != nil || !ok {
		t.Fatalf("BusiestHour: ok=%v err=%v", ok, err)
	}
	if hour != 14 || count != 3 {
		t.Fatalf("busiest = %d (%d events), want 14 (3)", hour, count)
	}

	_, _, ok, err = st.BusiestHour(ctx, EventMissed, day)
	if err != nil || ok {
		t.Fatalf("empty kind: ok=%v err=%v", ok, err)
	}
}

func TestRecentAndPrune(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	users := []string{"alice", "bob", "carol"}
	for i, u := range users {
		e := Event{At: base.Add(time.Duration(i) * time.Hour), Kind: EventPassed, Username: u}
		if _, err := st.Append(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	recent, err := st.Recent(ctx, EventPassed, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 || recent[0].Username != "carol" || recent[1].Username != "bob" {
		t.Fatalf("recent = %+v", recent)
	}

	n, err := st.Prune(ctx, base.Add(30*time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("Prune: n=%d err=%v", n, err)
	}
	totals, err := st.Totals(ctx, base.Add(-time.Hour))
	if err != nil || totals[EventPassed] != 2 {
		t.Fatalf("after prune totals = %v err=%v", totals, err)
	}
}

func TestOutcomeParsing(t *testing.T) {
	t.Parallel()
	cases := []struct {
		line     string
		kind     string
		username string
		ok       bool
	}{
		{"*** Now interviewing alice_99", EventStarted, "alice_99", true},
		{"InterviewBot: now interviewing [Bob]", EventStarted, "[Bob]", true},
		{"alice was kicked by InterviewBot (Congratulations! You passed.)", EventPassed, "alice", true},
		{"bob was kicked by InterviewBot (You have not passed the interview.)", EventFailed, "bob", true},
		{"carol has been kicked (You missed your interview slot.)", EventMissed, "carol", true},
		{"dave was kicked by op (flooding)", "", "", false},
		{"just a chat line", "", "", false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.line, func(t *testing.T) {
			t.Parallel()
			kind, username, ok := Extract(tc.line)
			if ok != tc.ok || kind != tc.kind || username != tc.username {
				t.Fatalf("Extract(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tc.line, kind, username, ok, tc.kind, tc.username, tc.ok)
			}
		})
	}
}

func TestExtractorTrustsOnlyTheBot(t *testing.T) {
	t.Parallel()
	x := NewExtractor("InterviewBot")

	// Chatter mimicking the bot's phrasing must not produce a row.
	if _, _, ok := x.FromLine("randomguy", "i was kicked by InterviewBot (Congratulations!) haha good times"); ok {
		t.Fatal("chatter extracted as an outcome")
	}
	if _, _, ok := x.FromLine("randomguy", "now interviewing alice, allegedly"); ok {
		t.Fatal("chatter extracted as a start")
	}

	// The bot's own announcement and authorless status lines are trusted.
	kind, user, ok := x.FromLine("InterviewBot", "alice was kicked by InterviewBot (Congratulations!)")
	if !ok || kind != EventPassed || user != "alice" {
		t.Fatalf("bot line = (%q, %q, %v), want (passed, alice, true)", kind, user, ok)
	}
	if _, _, ok := x.FromLine("", "*** Now interviewing bob_77"); !ok {
		t.Fatal("status line not extracted")
	}

	// Colour codes around the phrasing are stripped before matching.
	kind, user, ok = x.FromLine("InterviewBot", "\x0304carol\x0f was kicked by InterviewBot (\x02not passed\x02)")
	if !ok || kind != EventFailed || user != "carol" {
		t.Fatalf("coloured line = (%q, %q, %v), want (failed, carol, true)", kind, user, ok)
	}
}
