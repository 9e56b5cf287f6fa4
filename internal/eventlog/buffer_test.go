package eventlog

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestBufferEvictsOldestWhenFull(t *testing.T) {
	buf := New(4)
	for i := 0; i < 10; i++ {
		buf.Info(fmt.Sprintf("entry-%d", i), nil)
	}

	if buf.Len() != 4 {
		t.Fatalf("unexpected length: got %d want 4", buf.Len())
	}

	entries := buf.Query(0, 0)
	if len(entries) != 4 {
		t.Fatalf("unexpected query size: got %d want 4", len(entries))
	}
	for i, entry := range entries {
		want := fmt.Sprintf("entry-%d", i+6)
		if entry.Text != want {
			t.Fatalf("entry %d: got %q want %q", i, entry.Text, want)
		}
	}
}

func TestBufferQuerySinceAndLimit(t *testing.T) {
	current := time.UnixMilli(1000)
	buf := New(16, WithClock(func() time.Time {
		current = current.Add(time.Millisecond)
		return current
	}))

	var stamps []int64
	for i := 0; i < 6; i++ {
		stamps = append(stamps, buf.Info(fmt.Sprintf("entry-%d", i), nil).Timestamp)
	}

	since := stamps[2]
	entries := buf.Query(since, 0)
	if len(entries) != 3 {
		t.Fatalf("since filter: got %d entries want 3", len(entries))
	}
	if entries[0].Text != "entry-3" {
		t.Fatalf("unexpected first entry: %q", entries[0].Text)
	}

	limited := buf.Query(0, 2)
	if len(limited) != 2 {
		t.Fatalf("limit: got %d entries want 2", len(limited))
	}
	if limited[1].Text != "entry-5" {
		t.Fatalf("limit should keep the most recent entries, got %q", limited[1].Text)
	}
}

func TestBufferDataIsolated(t *testing.T) {
	buf := New(4)
	data := map[string]any{"region": "North"}
	buf.Info("event", data)
	data["region"] = "South"

	entries := buf.Query(0, 0)
	if entries[0].Data["region"] != "North" {
		t.Fatalf("entry data should be cloned, got %v", entries[0].Data["region"])
	}
}

func TestBufferConcurrentReaders(t *testing.T) {
	buf := New(64)
	done := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					buf.Query(0, 10)
					buf.Len()
				}
			}
		}()
	}

	for i := 0; i < 500; i++ {
		buf.Info("tick", nil)
	}
	close(done)
	wg.Wait()

	if buf.Len() != 64 {
		t.Fatalf("unexpected length after concurrent access: %d", buf.Len())
	}
}
