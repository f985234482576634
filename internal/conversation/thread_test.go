package conversation

import (
	"errors"
	"fmt"
	"testing"
)

func TestThread_AppendOrdering(t *testing.T) {
	thread := NewThread("t1")

	for i := 0; i < 10; i++ {
		msg := NewMessage("t1", "user", fmt.Sprintf("message %d", i), nil)
		if err := thread.AddMessage(msg); err != nil {
			t.Fatalf("AddMessage failed: %v", err)
		}
	}

	msgs := thread.Messages()
	if len(msgs) != 10 {
		t.Fatalf("expected 10 messages, got %d", len(msgs))
	}
	for i, msg := range msgs {
		want := fmt.Sprintf("message %d", i)
		if msg.Content != want {
			t.Errorf("message %d out of order: got %q, want %q", i, msg.Content, want)
		}
	}
}

func TestThread_AddMessageMismatch(t *testing.T) {
	thread := NewThread("t1")
	msg := NewMessage("other", "user", "hello", nil)

	err := thread.AddMessage(msg)
	if !errors.Is(err, ErrThreadMismatch) {
		t.Fatalf("expected ErrThreadMismatch, got %v", err)
	}
	if thread.Len() != 0 {
		t.Errorf("mismatched message must not be stored")
	}
}

func TestThread_LastN(t *testing.T) {
	thread := NewThread("t1")
	for i := 0; i < 5; i++ {
		thread.AddMessage(NewMessage("t1", "user", fmt.Sprintf("m%d", i), nil))
	}

	tests := []struct {
		n    int
		want []string
	}{
		{n: 2, want: []string{"m3", "m4"}},
		{n: 5, want: []string{"m0", "m1", "m2", "m3", "m4"}},
		{n: 10, want: []string{"m0", "m1", "m2", "m3", "m4"}},
		{n: 0, want: nil},
	}

	for _, tt := range tests {
		got := thread.LastN(tt.n)
		if len(got) != len(tt.want) {
			t.Errorf("LastN(%d): got %d messages, want %d", tt.n, len(got), len(tt.want))
			continue
		}
		for i := range got {
			if got[i].Content != tt.want[i] {
				t.Errorf("LastN(%d)[%d]: got %q, want %q", tt.n, i, got[i].Content, tt.want[i])
			}
		}
	}
}

func TestThread_MessagesBySender(t *testing.T) {
	thread := NewThread("t1")
	thread.AddMessage(NewMessage("t1", "user", "hi", nil))
	thread.AddMessage(NewMessage("t1", "assistant", "hello", nil))
	thread.AddMessage(NewMessage("t1", "user", "bye", nil))

	got := thread.MessagesBySender("user")
	if len(got) != 2 {
		t.Fatalf("expected 2 user messages, got %d", len(got))
	}
	if got[0].Content != "hi" || got[1].Content != "bye" {
		t.Errorf("sender filter broke ordering: %v", got)
	}
}

func TestThread_MessagesReturnsCopy(t *testing.T) {
	thread := NewThread("t1")
	thread.AddMessage(NewMessage("t1", "user", "original", nil))

	msgs := thread.Messages()
	msgs[0].Content = "mutated"

	if thread.Messages()[0].Content != "original" {
		t.Error("Messages must return a copy of the log")
	}
}
