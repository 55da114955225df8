package logbuf

import (
	"fmt"
	"testing"
)

func TestBufferEvictsOldest(t *testing.T) {
	t.Parallel()

	buf := New(3)
	for i := 0; i < 5; i++ {
		buf.Append("info", fmt.Sprintf("line %d", i))
	}

	if buf.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", buf.Len())
	}
	tail := buf.Tail(0)
	if tail[0].Message != "line 2" || tail[2].Message != "line 4" {
		t.Fatalf("unexpected tail: %+v", tail)
	}
}

func TestTailNewestLast(t *testing.T) {
	t.Parallel()

	buf := New(10)
	buf.Append("info", "first")
	buf.Append("info", "second")
	buf.Append("info", "third")

	tail := buf.Tail(2)
	if len(tail) != 2 {
		t.Fatalf("len(tail) = %d, want 2", len(tail))
	}
	if tail[0].Message != "second" || tail[1].Message != "third" {
		t.Fatalf("unexpected order: %+v", tail)
	}
}

func TestWriterStripsStdlibPrefix(t *testing.T) {
	t.Parallel()

	buf := New(10)
	w := NewWriter(buf)
	if _, err := w.Write([]byte("2026/08/30 10:11:12 apply succeeded tunnel=abc rev=1\n")); err != nil {
		t.Fatal(err)
	}

	tail := buf.Tail(1)
	if len(tail) != 1 {
		t.Fatal("expected one entry")
	}
	if tail[0].Message != "apply succeeded tunnel=abc rev=1" {
		t.Fatalf("message = %q", tail[0].Message)
	}
	if tail[0].Level != "info" {
		t.Fatalf("level = %q, want info", tail[0].Level)
	}
}

func TestWriterClassifiesLevels(t *testing.T) {
	t.Parallel()

	cases := []struct {
		line  string
		level string
	}{
		{"apply failed tunnel=x: connection refused", "error"},
		{"push error node=n1", "error"},
		{"warning: counter went backwards", "warning"},
		{"registered node id=n1", "info"},
	}
	for _, tc := range cases {
		buf := New(4)
		w := NewWriter(buf)
		if _, err := w.Write([]byte(tc.line + "\n")); err != nil {
			t.Fatal(err)
		}
		got := buf.Tail(1)[0].Level
		if got != tc.level {
			t.Fatalf("classify(%q) = %q, want %q", tc.line, got, tc.level)
		}
	}
}
