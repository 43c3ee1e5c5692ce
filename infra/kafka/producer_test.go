package kafka

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublishWritesKeyedMessage(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w, topic: "gc.cycles"}

	if err := p.Publish(context.Background(), []byte("cycle/1"), []byte("v")); err != nil {
		t.Fatal(err)
	}
	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "cycle/1" || string(w.msgs[0].Value) != "v" {
		t.Fatalf("wrote %+v", w.msgs)
	}
	if err := p.Close(); err != nil || !w.closed {
		t.Fatal("close must reach the writer")
	}
}

func TestPublishWrapsWriterError(t *testing.T) {
	cause := errors.New("leader not available")
	p := &Producer{writer: &fakeWriter{err: cause}, topic: "gc.cycles"}

	err := p.Publish(context.Background(), nil, nil)
	if !errors.Is(err, cause) {
		t.Fatalf("expected the writer error, got %v", err)
	}
}

func TestNewProducerTargetsTopic(t *testing.T) {
	p := NewProducer([]string{"localhost:9092"}, "gc.cycles")
	w, ok := p.writer.(*kafka.Writer)
	if !ok || w.Topic != "gc.cycles" || w.RequiredAcks != kafka.RequireAll {
		t.Fatalf("writer %+v", p.writer)
	}
}
