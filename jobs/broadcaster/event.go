package broadcaster

import (
	"time"

	"github.com/SababAosaf/tlxr/domain/scheduler"
	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// EventVersion is bumped when event fields change meaning.
const EventVersion = 1

// Event is a finished collection cycle as published.
type Event struct {
	V             int
	Cycle         uint64
	Kind          string
	UserTriggered bool
	Emergency     bool
	Mutators      int
	Packets       int64
	Pause         time.Duration
	Started       time.Time
}

func NewEvent(c *scheduler.Cycle, pause time.Duration) Event {
	return Event{
		V:             EventVersion,
		Cycle:         c.ID,
		Kind:          c.Kind.String(),
		UserTriggered: c.Request.UserTriggered,
		Emergency:     c.Request.Emergency,
		Mutators:      len(c.Mutators),
		Packets:       c.TotalPackets(),
		Pause:         pause,
		Started:       c.Started,
	}
}

// Encode serialises e as a protobuf Struct.
func (e Event) Encode() ([]byte, error) {
	s, err := structpb.NewStruct(map[string]any{
		"v":              e.V,
		"cycle":          float64(e.Cycle),
		"kind":           e.Kind,
		"user_triggered": e.UserTriggered,
		"emergency":      e.Emergency,
		"mutators":       e.Mutators,
		"packets":        float64(e.Packets),
		"pause_ns":       float64(e.Pause.Nanoseconds()),
		"started":        e.Started.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, errors.Wrap(err, "event")
	}
	return proto.Marshal(s)
}

func DecodeEvent(b []byte) (Event, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(b, &s); err != nil {
		return Event{}, errors.Wrap(err, "event")
	}
	f := s.GetFields()
	started, err := time.Parse(time.RFC3339Nano, f["started"].GetStringValue())
	if err != nil {
		return Event{}, errors.Wrap(err, "event start time")
	}
	return Event{
		V:             int(f["v"].GetNumberValue()),
		Cycle:         uint64(f["cycle"].GetNumberValue()),
		Kind:          f["kind"].GetStringValue(),
		UserTriggered: f["user_triggered"].GetBoolValue(),
		Emergency:     f["emergency"].GetBoolValue(),
		Mutators:      int(f["mutators"].GetNumberValue()),
		Packets:       int64(f["packets"].GetNumberValue()),
		Pause:         time.Duration(f["pause_ns"].GetNumberValue()),
		Started:       started,
	}, nil
}
