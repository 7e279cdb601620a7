package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "warelay/pkg/logx"
)

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "relay", "records.jsonl")

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	now := time.Now().UTC().Truncate(time.Millisecond)
	for i, id := range []string{"bc:1", "bc:2", "bc:3"} {
		err := st.AppendRecord(context.Background(), BroadcastRecord{
			JobID:      id,
			Owner:      "628123",
			Total:      2,
			Sent:       2 - i%2,
			Failed:     i % 2,
			StartedAt:  now,
			FinishedAt: now.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("AppendRecord(%s): %v", id, err)
		}
	}

	recs, err := st.RecentRecords(context.Background(), 2)
	if err != nil {
		t.Fatalf("RecentRecords: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	// newest first
	if recs[0].JobID != "bc:3" || recs[1].JobID != "bc:2" {
		t.Fatalf("order = %s, %s", recs[0].JobID, recs[1].JobID)
	}
	if recs[0].Owner != "628123" || recs[0].Total != 2 {
		t.Fatalf("record = %+v", recs[0])
	}
}

func TestFileStoreSkipsCorruptLines(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "records.jsonl")

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	if err := st.AppendRecord(context.Background(), BroadcastRecord{JobID: "bc:1", FinishedAt: time.Now()}); err != nil {
		t.Fatalf("AppendRecord: %v", err)
	}
	// Simulate a torn write at the tail.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.WriteString(`{"job_id":"bc:torn`); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = f.Close()

	recs, err := st.RecentRecords(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentRecords: %v", err)
	}
	if len(recs) != 1 || recs[0].JobID != "bc:1" {
		t.Fatalf("records = %+v", recs)
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if st != nil {
		t.Fatal("expected nil store when disabled")
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "mystery"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
