package scheduler

import "fmt"

// Packet is one schedulable unit of collection work. A packet is executed
// exactly once; it may push follow-up packets into the current stage or
// a later one through the worker.
type Packet interface {
	Execute(w *Worker)
}

// PacketFunc adapts a function to Packet.
type PacketFunc func(w *Worker)

func (f PacketFunc) Execute(w *Worker) { f(w) }

// Named packets report a stable name to observers.
type Named interface {
	Name() string
}

type namedFunc struct {
	name string
	fn   func(w *Worker)
}

func (n namedFunc) Execute(w *Worker) { n.fn(w) }

func (n namedFunc) Name() string { return n.name }

// Func returns a named packet running fn.
func Func(name string, fn func(w *Worker)) Packet {
	return namedFunc{name: name, fn: fn}
}

// PacketName returns p's name, falling back to its dynamic type.
func PacketName(p Packet) string {
	if n, ok := p.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", p)
}
