package usage

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAppendReadRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "usage.csv")
	now := time.Now().UTC().Truncate(time.Millisecond)

	first := []Sample{
		{Timestamp: now, TunnelID: "t1", NodeID: "n1", BytesUsed: 1024},
		{Timestamp: now.Add(time.Second), TunnelID: "t2", NodeID: "n1", BytesUsed: 2048},
	}
	if err := AppendCSV(path, first); err != nil {
		t.Fatalf("AppendCSV: %v", err)
	}
	// Second append must not repeat the header.
	if err := AppendCSV(path, []Sample{{Timestamp: now.Add(2 * time.Second), TunnelID: "t1", NodeID: "n1", BytesUsed: 512}}); err != nil {
		t.Fatalf("AppendCSV: %v", err)
	}

	items, err := ReadCSV(path)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("len(items) = %d, want 3", len(items))
	}
	if items[0].TunnelID != "t1" || items[0].BytesUsed != 1024 {
		t.Fatalf("unexpected first sample: %+v", items[0])
	}
	if !items[0].Timestamp.Equal(now) {
		t.Fatalf("timestamp = %s, want %s", items[0].Timestamp, now)
	}
}

func TestReadCSVMissingFile(t *testing.T) {
	t.Parallel()

	items, err := ReadCSV(filepath.Join(t.TempDir(), "absent.csv"))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if items != nil {
		t.Fatalf("expected nil, got %d samples", len(items))
	}
}

func TestReadCSVSkipsBadRows(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "usage.csv")
	content := "timestamp,tunnel_id,node_id,bytes_used\n" +
		"not-a-time,t1,n1,100\n" +
		time.Now().UTC().Format(time.RFC3339Nano) + ",t2,n1,not-a-number\n" +
		time.Now().UTC().Format(time.RFC3339Nano) + ",t3,n1,300\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	items, err := ReadCSV(path)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(items) != 1 || items[0].TunnelID != "t3" {
		t.Fatalf("expected only the valid row, got %+v", items)
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	items := []Sample{
		{Timestamp: now.Add(-2 * time.Hour), TunnelID: "old", BytesUsed: 999},
		{Timestamp: now.Add(-30 * time.Minute), TunnelID: "t1", BytesUsed: 50 * 1024 * 1024},
		{Timestamp: now, TunnelID: "t1", BytesUsed: 50 * 1024 * 1024},
	}

	sum := Summarize(items, now.Add(-time.Hour))
	if sum.Count != 2 {
		t.Fatalf("Count = %d, want 2", sum.Count)
	}
	if sum.TotalBytes != 100*1024*1024 {
		t.Fatalf("TotalBytes = %d", sum.TotalBytes)
	}
	// 100 MB over a one hour window.
	if sum.RateMBPerHour < 99 || sum.RateMBPerHour > 101 {
		t.Fatalf("RateMBPerHour = %f, want ~100", sum.RateMBPerHour)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	t.Parallel()

	sum := Summarize(nil, time.Now())
	if sum.Count != 0 || sum.TotalBytes != 0 || sum.RateMBPerHour != 0 {
		t.Fatalf("expected zero summary, got %+v", sum)
	}
}
