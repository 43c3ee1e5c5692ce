package journal

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble/vfs"
)

func openMem(t *testing.T, fs vfs.FS) *Journal {
	t.Helper()
	j, err := Open("journal", fs)
	if err != nil {
		t.Fatal(err)
	}
	return j
}

func TestRecordLifecycle(t *testing.T) {
	j := openMem(t, vfs.NewMem())
	defer j.Close()

	if err := j.Append(7, []byte("payload")); err != nil {
		t.Fatal(err)
	}
	rec, err := j.Get(7)
	if err != nil || rec.State != StateNew || string(rec.Payload) != "payload" {
		t.Fatalf("got %+v, %v", rec, err)
	}

	if err := j.MarkSent(7); err != nil {
		t.Fatal(err)
	}
	if err := j.MarkSent(7); err != nil {
		t.Fatal(err)
	}
	rec, _ = j.Get(7)
	if rec.State != StateSent || rec.Retries != 2 || rec.LastAttempt == 0 {
		t.Fatalf("after two sends: %+v", rec)
	}

	if err := j.MarkAcked(7); err != nil {
		t.Fatal(err)
	}
	rec, _ = j.Get(7)
	if rec.State != StateAcked || string(rec.Payload) != "payload" {
		t.Fatalf("after ack: %+v", rec)
	}

	if _, err := j.Get(8); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := j.MarkAcked(8); !errors.Is(err, ErrNotFound) {
		t.Fatalf("updating a missing cycle: %v", err)
	}
}

func TestScanPendingInCycleOrder(t *testing.T) {
	j := openMem(t, vfs.NewMem())
	defer j.Close()

	// keys are zero padded, so 10 sorts after 9
	for _, id := range []uint64{10, 2, 9, 1} {
		if err := j.Append(id, nil); err != nil {
			t.Fatal(err)
		}
	}
	_ = j.MarkSent(9)
	_ = j.MarkAcked(2)

	var got []uint64
	if err := j.ScanPending(func(r Record) error {
		got = append(got, r.Cycle)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	want := []uint64{1, 9, 10}
	if len(got) != len(want) {
		t.Fatalf("pending %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pending %v, want %v", got, want)
		}
	}

	last, err := j.LastCycle()
	if err != nil || last != 10 {
		t.Fatalf("last cycle %d, %v", last, err)
	}
}

func TestTruncateAcked(t *testing.T) {
	j := openMem(t, vfs.NewMem())
	defer j.Close()

	for id := uint64(1); id <= 5; id++ {
		_ = j.Append(id, nil)
		if id != 3 {
			_ = j.MarkAcked(id)
		}
	}
	n, err := j.TruncateAcked(4)
	if err != nil || n != 3 {
		t.Fatalf("truncated %d, %v", n, err)
	}
	for id, kept := range map[uint64]bool{1: false, 2: false, 3: true, 4: false, 5: true} {
		if _, err := j.Get(id); (err == nil) != kept {
			t.Fatalf("cycle %d kept=%t, err %v", id, kept, err)
		}
	}
}

func TestReopenKeepsRecords(t *testing.T) {
	fs := vfs.NewMem()
	j := openMem(t, fs)
	_ = j.Append(42, []byte("x"))
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}

	j = openMem(t, fs)
	defer j.Close()
	last, err := j.LastCycle()
	if err != nil || last != 42 {
		t.Fatalf("last cycle after reopen %d, %v", last, err)
	}
}

func TestEmptyJournal(t *testing.T) {
	j := openMem(t, vfs.NewMem())
	defer j.Close()
	if last, err := j.LastCycle(); err != nil || last != 0 {
		t.Fatalf("empty journal: %d, %v", last, err)
	}
}
