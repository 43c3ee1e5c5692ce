package metadata

// Planes bundles the built-in planes every heap registers.
type Planes struct {
	Mark              *Spec
	ForwardingStatus  *Spec
	ForwardingPointer *Spec
	Unlogged          *Spec
	ValidObject       *Spec
	SanityMark        *Spec
}

// NewPlanes registers the built-in planes on c. All of them use a
// one-word granule, which is the minimum object alignment.
func NewPlanes(c *Context) *Planes {
	return &Planes{
		Mark:              c.MustRegister(MarkBit, 0, MinLogBytesInRegion),
		ForwardingStatus:  c.MustRegister(ForwardingStatus, 1, MinLogBytesInRegion),
		ForwardingPointer: c.MustRegister(ForwardingPointer, MaxLogNumBits, MinLogBytesInRegion),
		Unlogged:          c.MustRegister(UnloggedBit, 0, MinLogBytesInRegion),
		ValidObject:       c.MustRegister(ValidObjectBit, 0, MinLogBytesInRegion),
		SanityMark:        c.MustRegister(SanityMarkBit, 0, MinLogBytesInRegion),
	}
}
