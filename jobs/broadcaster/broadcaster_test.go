package broadcaster

import (
	"context"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/SababAosaf/tlxr/domain/scheduler"
	"github.com/SababAosaf/tlxr/infra/journal"
	"github.com/cockroachdb/pebble/vfs"
)

func openJournal(t *testing.T) *journal.Journal {
	t.Helper()
	j, err := journal.Open("journal", vfs.NewMem())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestEventRoundTrip(t *testing.T) {
	c := scheduler.NewCycle(12, scheduler.Request{Emergency: true})
	c.Kind = scheduler.Nursery
	c.Mutators = append(c.Mutators, 1, 2)

	b, err := NewEvent(c, 3*time.Millisecond).Encode()
	if err != nil {
		t.Fatal(err)
	}
	e, err := DecodeEvent(b)
	if err != nil {
		t.Fatal(err)
	}
	if e.V != EventVersion || e.Cycle != 12 || e.Kind != "nursery" || !e.Emergency || e.UserTriggered ||
		e.Mutators != 2 || e.Pause != 3*time.Millisecond || !e.Started.Equal(c.Started) {
		t.Fatalf("decoded %+v", e)
	}
}

func TestReplayPublishesAndAcks(t *testing.T) {
	j := openJournal(t)
	rec := NewRecorder(j)
	for id := uint64(1); id <= 3; id++ {
		rec.CycleEnd(scheduler.NewCycle(id, scheduler.Request{}), time.Millisecond)
	}

	producer := mocks.NewSyncProducer(t, nil)
	for i := 0; i < 3; i++ {
		producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(v []byte) error {
			_, err := DecodeEvent(v)
			return err
		})
	}
	b := New(j, WrapSyncProducer(producer, "gc.cycles"), Config{})
	if n := b.replayOnce(context.Background()); n != 3 {
		t.Fatalf("acked %d", n)
	}
	for id := uint64(1); id <= 3; id++ {
		r, err := j.Get(id)
		if err != nil || r.State != journal.StateAcked || r.Retries != 1 {
			t.Fatalf("cycle %d: %+v, %v", id, r, err)
		}
	}
	if n := b.replayOnce(context.Background()); n != 0 {
		t.Fatalf("acked records were sent again: %d", n)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestFailedSendsAreRetriedThenAbandoned(t *testing.T) {
	j := openJournal(t)
	NewRecorder(j).CycleEnd(scheduler.NewCycle(1, scheduler.Request{}), 0)

	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)
	producer.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)
	b := New(j, WrapSyncProducer(producer, "gc.cycles"), Config{MaxRetries: 2})

	for i := 0; i < 2; i++ {
		if n := b.replayOnce(context.Background()); n != 0 {
			t.Fatal("a failed send must not be acknowledged")
		}
		if r, _ := j.Get(1); r.State != journal.StateSent || r.Retries != uint32(i+1) {
			t.Fatalf("attempt %d: %+v", i, r)
		}
	}
	b.replayOnce(context.Background())
	if r, _ := j.Get(1); r.State != journal.StateFailed {
		t.Fatalf("after the retry limit: %+v", r)
	}
	_ = b.Close()
}

type chanPublisher chan []byte

func (c chanPublisher) Publish(_ context.Context, _, value []byte) error {
	c <- value
	return nil
}

func (c chanPublisher) Close() error { return nil }

func TestStartFlushesOnCancel(t *testing.T) {
	j := openJournal(t)
	NewRecorder(j).CycleEnd(scheduler.NewCycle(5, scheduler.Request{UserTriggered: true}), 0)

	pub := make(chanPublisher, 1)
	b := New(j, pub, Config{Interval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	b.Start(ctx)
	cancel()

	select {
	case <-b.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("broadcaster did not stop")
	}
	e, err := DecodeEvent(<-pub)
	if err != nil || e.Cycle != 5 || !e.UserTriggered {
		t.Fatalf("published %+v, %v", e, err)
	}
}
