package turn

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusProcessing, StatusTranscribed, true},
		{StatusProcessing, StatusError, true},
		{StatusTranscribed, StatusCompleted, true},
		{StatusTranscribed, StatusError, true},
		{StatusProcessing, StatusCompleted, false},
		{StatusTranscribed, StatusProcessing, false},
		{StatusCompleted, StatusProcessing, false},
		{StatusCompleted, StatusError, false},
		{StatusError, StatusTranscribed, false},
		{StatusProcessing, StatusProcessing, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStatusNeverRegresses(t *testing.T) {
	order := map[Status]int{
		StatusProcessing:  0,
		StatusTranscribed: 1,
		StatusCompleted:   2,
		StatusError:       2,
	}
	all := []Status{StatusProcessing, StatusTranscribed, StatusCompleted, StatusError}

	for _, from := range all {
		for _, to := range all {
			if CanTransition(from, to) && order[to] <= order[from] {
				t.Errorf("edge %s -> %s moves backwards", from, to)
			}
		}
		if from.IsTerminal() {
			for _, to := range all {
				if CanTransition(from, to) {
					t.Errorf("terminal %s has outgoing edge to %s", from, to)
				}
			}
		}
	}
}

func TestAdvance(t *testing.T) {
	in := NewInput("c1", "u1", "s1", "r1", "input/u1/c1/r1.audio", 100)

	t.Run("forward edge", func(t *testing.T) {
		next, err := in.Advance(StatusTranscribed, 200)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if next.Status != StatusTranscribed || next.UpdatedAt != 200 {
			t.Errorf("got status %s updatedAt %d", next.Status, next.UpdatedAt)
		}
		if in.Status != StatusProcessing {
			t.Error("Advance must not modify the receiver")
		}
	})

	t.Run("illegal edge", func(t *testing.T) {
		if _, err := in.Advance(StatusCompleted, 200); err == nil {
			t.Error("expected error for PROCESSING -> COMPLETED")
		}
	})
}

func TestNewOutput(t *testing.T) {
	in := NewInput("c1", "u1", "s1", "r1", "input/u1/c1/r1.audio", 100)
	out := NewOutput(in, "hi there", "output/u1/c1/r1.audio", 101)

	if out.Direction != DirectionOutput || out.Status != StatusCompleted {
		t.Errorf("got %s/%s", out.Direction, out.Status)
	}
	if out.ParentRequestID != "r1" {
		t.Errorf("ParentRequestID = %q, want r1", out.ParentRequestID)
	}
	if out.RequestID != "r1"+ResponseSuffix {
		t.Errorf("RequestID = %q", out.RequestID)
	}
	if out.ConversationID != in.ConversationID || out.UserID != in.UserID || out.SessionID != in.SessionID {
		t.Error("identity fields not carried over")
	}
}

func TestValidate(t *testing.T) {
	valid := NewInput("c1", "u1", "", "r1", "k", 1)
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	broken := []func(*Turn){
		func(t *Turn) { t.ConversationID = "" },
		func(t *Turn) { t.RequestID = "" },
		func(t *Turn) { t.UserID = "" },
		func(t *Turn) { t.Timestamp = 0 },
		func(t *Turn) { t.Direction = "SIDEWAYS" },
		func(t *Turn) { t.Status = "DONE" },
	}
	for i, mutate := range broken {
		tt := valid
		mutate(&tt)
		if err := tt.Validate(); !errors.Is(err, ErrInvalid) {
			t.Errorf("case %d: expected ErrInvalid, got %v", i, err)
		}
	}
}

func TestClock(t *testing.T) {
	fixed := time.UnixMilli(1000)
	c := NewClock(func() time.Time { return fixed })

	a := c.Next()
	b := c.Next()
	if a != 1000 || b != 1001 {
		t.Errorf("got %d, %d; want 1000, 1001", a, b)
	}

	if got := c.After(5000); got != 5001 {
		t.Errorf("After(5000) = %d, want 5001", got)
	}
	if got := c.Next(); got != 5002 {
		t.Errorf("Next after floor = %d, want 5002", got)
	}
}

func TestSummarize(t *testing.T) {
	t.Run("empty conversation", func(t *testing.T) {
		s := Summarize("c1", nil)
		if s.Title != DefaultTitle || s.MessageCount != 0 || s.LastMessageTimestamp != 0 {
			t.Errorf("unexpected summary: %+v", s)
		}
	})

	t.Run("title from first transcript", func(t *testing.T) {
		first := NewInput("c1", "u1", "", "r1", "k1", 10)
		first.Transcript = "What is the weather forecast for today?"
		second := NewInput("c1", "u1", "", "r2", "k2", 30)
		second.Transcript = "And tomorrow?"
		reply := NewOutput(first, "Sunny.", "o1", 20)

		s := Summarize("c1", []Turn{second, reply, first})
		if s.Title != "What is the weather forecast for today?" {
			t.Errorf("Title = %q", s.Title)
		}
		if s.MessageCount != 3 || s.LastMessageTimestamp != 30 {
			t.Errorf("unexpected summary: %+v", s)
		}
	})
}

func TestTitle(t *testing.T) {
	long := strings.Repeat("word ", 30)
	got := Title(long)
	if !strings.HasSuffix(got, "...") {
		t.Errorf("expected ellipsis, got %q", got)
	}
	if len([]rune(got)) > maxTitleRunes+3 {
		t.Errorf("title too long: %d runes", len([]rune(got)))
	}

	if got := Title("  hello \n world "); got != "hello world" {
		t.Errorf("Title collapsed whitespace = %q", got)
	}
}

func TestSortSummaries(t *testing.T) {
	s := []Summary{{ConversationID: "a", LastMessageTimestamp: 1}, {ConversationID: "b", LastMessageTimestamp: 3}, {ConversationID: "c", LastMessageTimestamp: 2}}
	SortSummaries(s)
	if s[0].ConversationID != "b" || s[1].ConversationID != "c" || s[2].ConversationID != "a" {
		t.Errorf("unexpected order: %+v", s)
	}
}
