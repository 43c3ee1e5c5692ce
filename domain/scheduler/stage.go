// Package scheduler runs a collection cycle as an ordered sequence of
// stages. Each stage has one shared bucket of packets; a stage opens only
// after its predecessor has fully drained, so the side effects of every
// stage-N packet are visible to all stage-N+1 packets.
package scheduler

// Stage is one step of a collection cycle.
type Stage int32

const (
	Prepare Stage = iota
	Roots
	Closure
	SoftRefClosure
	WeakRefClosure
	FinalRefClosure
	PhantomRefClosure
	Release
	Final

	NumStages = int(Final) + 1
)

// idleStage marks the absence of an open stage.
const idleStage int32 = -1

var stageNames = [NumStages]string{
	"Prepare",
	"Roots",
	"Closure",
	"SoftRefClosure",
	"WeakRefClosure",
	"FinalRefClosure",
	"PhantomRefClosure",
	"Release",
	"Final",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= NumStages {
		return "Idle"
	}
	return stageNames[s]
}

// Stages lists every stage in execution order.
func Stages() []Stage {
	out := make([]Stage, NumStages)
	for i := range out {
		out[i] = Stage(i)
	}
	return out
}
