// Package broadcaster publishes journaled collection cycles. Cycles are
// written to the journal first; a background loop then moves each record
// NEW -> SENT -> ACKED, so a crash between the steps only re-sends.
package broadcaster

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/IBM/sarama"
	"github.com/SababAosaf/tlxr/domain/scheduler"
	"github.com/SababAosaf/tlxr/infra/journal"
)

// Publisher delivers one event and reports whether the broker took it.
type Publisher interface {
	Publish(ctx context.Context, key, value []byte) error
	Close() error
}

type Config struct {
	// Interval between journal scans.
	Interval time.Duration
	// MaxRetries is how often a record is sent before it is marked
	// FAILED; 0 retries forever.
	MaxRetries uint32
}

type Broadcaster struct {
	journal *journal.Journal
	pub     Publisher
	cfg     Config
	done    chan struct{}
}

// ------------------------------------------------
// CONSTRUCTOR
// ------------------------------------------------

func New(j *journal.Journal, pub Publisher, cfg Config) *Broadcaster {
	if cfg.Interval <= 0 {
		cfg.Interval = 250 * time.Millisecond
	}
	return &Broadcaster{
		journal: j,
		pub:     pub,
		cfg:     cfg,
		done:    make(chan struct{}),
	}
}

// ------------------------------------------------
// START LOOP
// ------------------------------------------------

// Start runs the loop until ctx is cancelled. A final scan flushes what
// was journaled before cancellation.
func (b *Broadcaster) Start(ctx context.Context) {
	log.Println("[broadcaster] started")

	go func() {
		defer close(b.done)
		ticker := time.NewTicker(b.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				b.replayOnce(context.Background())
				return

			case <-ticker.C:
				b.replayOnce(ctx)
			}
		}
	}()
}

// Done is closed when the loop has exited.
func (b *Broadcaster) Done() <-chan struct{} { return b.done }

// ------------------------------------------------
// REPLAY LOGIC
// ------------------------------------------------

// replayOnce sends every pending record once and returns how many the
// broker acknowledged.
func (b *Broadcaster) replayOnce(ctx context.Context) int {
	acked := 0
	err := b.journal.ScanPending(func(rec journal.Record) error {
		if limit := b.cfg.MaxRetries; limit > 0 && rec.Retries >= limit {
			log.Printf("[broadcaster] cycle %d failed after %d attempts", rec.Cycle, rec.Retries)
			return b.journal.MarkFailed(rec.Cycle)
		}

		// mark SENT before publishing so retries are counted
		if err := b.journal.MarkSent(rec.Cycle); err != nil {
			return err
		}
		key := []byte(fmt.Sprintf("cycle/%d", rec.Cycle))
		if err := b.pub.Publish(ctx, key, rec.Payload); err != nil {
			log.Printf("[broadcaster] cycle %d: %v", rec.Cycle, err)
			return nil // retry later
		}
		acked++
		return b.journal.MarkAcked(rec.Cycle)
	})
	if err != nil {
		log.Printf("[broadcaster] journal scan: %v", err)
	}
	return acked
}

// ------------------------------------------------
// RECORDING
// ------------------------------------------------

// Recorder journals every finished cycle. It is a scheduler observer.
type Recorder struct {
	scheduler.NopObserver
	journal *journal.Journal
}

func NewRecorder(j *journal.Journal) *Recorder {
	return &Recorder{journal: j}
}

func (r *Recorder) CycleEnd(c *scheduler.Cycle, pause time.Duration) {
	payload, err := NewEvent(c, pause).Encode()
	if err == nil {
		err = r.journal.Append(c.ID, payload)
	}
	if err != nil {
		log.Printf("[broadcaster] journal %s: %v", c, err)
	}
}

// ------------------------------------------------
// SARAMA
// ------------------------------------------------

// SaramaPublisher publishes through a sarama SyncProducer.
type SaramaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewSaramaPublisher(brokers []string, topic string) (*SaramaPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return WrapSyncProducer(producer, topic), nil
}

func WrapSyncProducer(p sarama.SyncProducer, topic string) *SaramaPublisher {
	return &SaramaPublisher{producer: p, topic: topic}
}

func (p *SaramaPublisher) Publish(_ context.Context, key, value []byte) error {
	_, _, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.ByteEncoder(key),
		Value: sarama.ByteEncoder(value),
	})
	return err
}

// ------------------------------------------------
// SHUTDOWN
// ------------------------------------------------

func (p *SaramaPublisher) Close() error {
	return p.producer.Close()
}

func (b *Broadcaster) Close() error {
	return b.pub.Close()
}
