package service

import (
	"testing"

	"github.com/SababAosaf/tlxr/domain/plan"
	"github.com/SababAosaf/tlxr/domain/scheduler"
	"github.com/SababAosaf/tlxr/infra/journal"
	"github.com/SababAosaf/tlxr/infra/memory"
	"github.com/SababAosaf/tlxr/infra/simvm"
	"github.com/cockroachdb/pebble/vfs"
)

func TestResumeCycleIDs(t *testing.T) {
	j, err := journal.Open("journal", vfs.NewMem())
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()
	for _, id := range []uint64{3, 4, 9} {
		if err := j.Append(id, nil); err != nil {
			t.Fatal(err)
		}
	}

	ids, err := ResumeCycleIDs(j)
	if err != nil {
		t.Fatal(err)
	}
	v := simvm.New(memory.NewAddressSpace())
	h, err := New(Options{Plan: plan.Options{Kind: plan.KindMarkSweep}, IDs: ids}, v.Binding())
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	if id := h.Coordinator().Collect(scheduler.Request{}); id != 10 {
		t.Fatalf("first cycle after resume is %d, want 10", id)
	}
}
