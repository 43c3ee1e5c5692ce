package service

import (
	"github.com/SababAosaf/tlxr/infra/journal"
	"github.com/SababAosaf/tlxr/infra/sequence"
	"github.com/cockroachdb/errors"
)

/*
ResumeCycleIDs continues cycle numbering after the last journaled cycle.

The heap itself is not persistent; only the journal is. Reusing an ID
would make the broadcaster overwrite a record it may not have sent yet.
This MUST run before the heap is created.
*/
func ResumeCycleIDs(j *journal.Journal) (*sequence.Sequencer, error) {
	last, err := j.LastCycle()
	if err != nil {
		return nil, errors.Wrap(err, "resume cycle ids")
	}
	return sequence.New(last), nil
}
