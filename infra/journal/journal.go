// Package journal is the durable outbox of finished collection cycles.
// Every cycle is appended as NEW; the broadcaster moves records through
// SENT to ACKED, and acknowledged records are eventually truncated.
package journal

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// -------------------- State --------------------

type State uint8

const (
	StateNew State = iota
	StateSent
	StateAcked
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// ErrNotFound is returned for cycles the journal does not hold.
var ErrNotFound = errors.New("journal: cycle not found")

// -------------------- Record --------------------

type Record struct {
	Cycle       uint64
	State       State
	Retries     uint32
	LastAttempt int64
	Payload     []byte
}

const headerLen = 1 + 4 + 8

// binary encoding: [state:1][retries:4][lastAttempt:8][payload...]
func encodeRecord(r Record) []byte {
	buf := make([]byte, headerLen+len(r.Payload))
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.LastAttempt))
	copy(buf[headerLen:], r.Payload)
	return buf
}

func decodeRecord(id uint64, b []byte) (Record, error) {
	if len(b) < headerLen {
		return Record{}, errors.Newf("journal: record %d is %d bytes", id, len(b))
	}
	return Record{
		Cycle:       id,
		State:       State(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
		Payload:     bytes.Clone(b[headerLen:]),
	}, nil
}

// -------------------- Journal --------------------

type Journal struct {
	db *pebble.DB
}

// Open opens the journal in dir. fs may be nil for the default file
// system; tests pass vfs.NewMem().
func Open(dir string, fs vfs.FS) (*Journal, error) {
	opts := &pebble.Options{}
	if fs != nil {
		opts.FS = fs
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "journal: open %s", dir)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// -------------------- API --------------------

// Append records a finished cycle as NEW.
func (j *Journal) Append(cycle uint64, payload []byte) error {
	rec := Record{State: StateNew, Payload: payload}
	return j.db.Set(keyFor(cycle), encodeRecord(rec), pebble.Sync)
}

// Get returns the record of a cycle.
func (j *Journal) Get(cycle uint64) (Record, error) {
	val, closer, err := j.db.Get(keyFor(cycle))
	if errors.Is(err, pebble.ErrNotFound) {
		return Record{}, errors.Wrapf(ErrNotFound, "cycle %d", cycle)
	}
	if err != nil {
		return Record{}, err
	}
	defer closer.Close()
	return decodeRecord(cycle, val)
}

// MarkSent records a send attempt.
func (j *Journal) MarkSent(cycle uint64) error {
	return j.update(cycle, func(r *Record) {
		r.State = StateSent
		r.Retries++
	})
}

func (j *Journal) MarkAcked(cycle uint64) error {
	return j.update(cycle, func(r *Record) { r.State = StateAcked })
}

// MarkFailed gives up on a record; it is kept for inspection.
func (j *Journal) MarkFailed(cycle uint64) error {
	return j.update(cycle, func(r *Record) { r.State = StateFailed })
}

func (j *Journal) update(cycle uint64, fn func(*Record)) error {
	rec, err := j.Get(cycle)
	if err != nil {
		return err
	}
	fn(&rec)
	rec.LastAttempt = time.Now().UnixNano()
	return j.db.Set(keyFor(cycle), encodeRecord(rec), pebble.Sync)
}

// -------------------- Scan --------------------

// ScanByState visits records in the given state in cycle order.
// A record marked SENT but never acknowledged is still pending.
func (j *Journal) ScanByState(state State, fn func(Record) error) error {
	return j.scan(func(rec Record) error {
		if rec.State != state {
			return nil
		}
		return fn(rec)
	})
}

// ScanPending visits NEW and SENT records in cycle order.
func (j *Journal) ScanPending(fn func(Record) error) error {
	return j.scan(func(rec Record) error {
		if rec.State != StateNew && rec.State != StateSent {
			return nil
		}
		return fn(rec)
	})
}

func (j *Journal) scan(fn func(Record) error) error {
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyLimit),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		id, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		rec, err := decodeRecord(id, iter.Value())
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return iter.Error()
}

// LastCycle returns the highest journaled cycle ID, or 0 when empty.
func (j *Journal) LastCycle() (uint64, error) {
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyLimit),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, iter.Error()
	}
	return parseKey(iter.Key())
}

// TruncateAcked deletes acknowledged records up to and including cycle.
func (j *Journal) TruncateAcked(cycle uint64) (int, error) {
	b := j.db.NewBatch()
	defer b.Close()

	n := 0
	err := j.ScanByState(StateAcked, func(rec Record) error {
		if rec.Cycle > cycle {
			return nil
		}
		n++
		return b.Delete(keyFor(rec.Cycle), nil)
	})
	if err != nil || n == 0 {
		return 0, err
	}
	return n, b.Commit(pebble.Sync)
}

// -------------------- Helpers --------------------

const (
	keyPrefix = "cycle/"
	keyLimit  = "cycle/~"
)

func keyFor(cycle uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", keyPrefix, cycle))
}

func parseKey(b []byte) (uint64, error) {
	id, err := strconv.ParseUint(string(bytes.TrimPrefix(b, []byte(keyPrefix))), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "journal: bad key %q", b)
	}
	return id, nil
}
