package memory

import "fmt"

const (
	LogBytesInWord = 3
	BytesInWord    = 1 << LogBytesInWord

	LogBytesInPage = 12
	BytesInPage    = 1 << LogBytesInPage

	LogBytesInChunk = 20
	BytesInChunk    = 1 << LogBytesInChunk

	LogPagesInChunk = LogBytesInChunk - LogBytesInPage
	PagesInChunk    = 1 << LogPagesInChunk

	WordsInChunk = BytesInChunk / BytesInWord

	// MaxChunks bounds the simulated virtual address space.
	MaxChunks = 1 << 14
)

// HeapStart is the lowest address handed out by the address space.
const HeapStart Address = 0x0000_0200_0000_0000

// HeapEnd is one past the highest address of the simulated heap.
const HeapEnd Address = HeapStart + MaxChunks*BytesInChunk

// Address is a raw location in the simulated heap.
type Address uint64

// ObjectReference is an Address known by the binding to point at an
// object. The zero value is the null reference.
type ObjectReference uint64

// Null is the null object reference.
const Null ObjectReference = 0

func (a Address) Add(bytes uint64) Address { return a + Address(bytes) }

func (a Address) Sub(b Address) uint64 { return uint64(a - b) }

func (a Address) IsZero() bool { return a == 0 }

// AlignUp rounds a up to a multiple of align, which must be a power of two.
func (a Address) AlignUp(align uint64) Address {
	return Address((uint64(a) + align - 1) &^ (align - 1))
}

func (a Address) AlignDown(align uint64) Address {
	return Address(uint64(a) &^ (align - 1))
}

func (a Address) IsAligned(align uint64) bool {
	return uint64(a)&(align-1) == 0
}

func (a Address) ChunkStart() Address { return a.AlignDown(BytesInChunk) }

func (a Address) InHeap() bool { return a >= HeapStart && a < HeapEnd }

func (a Address) ToObjectReference() ObjectReference { return ObjectReference(a) }

func (a Address) String() string { return fmt.Sprintf("%#x", uint64(a)) }

func (o ObjectReference) IsNull() bool { return o == Null }

func (o ObjectReference) ToAddress() Address { return Address(o) }

func (o ObjectReference) String() string {
	if o == Null {
		return "null"
	}
	return fmt.Sprintf("obj@%#x", uint64(o))
}

// PagesToBytes converts a page count to bytes.
func PagesToBytes(pages int) uint64 { return uint64(pages) << LogBytesInPage }

// BytesToPages rounds bytes up to whole pages.
func BytesToPages(bytes uint64) int {
	return int((bytes + BytesInPage - 1) >> LogBytesInPage)
}

// ChunkIndex returns the slot of a's chunk in the address space table.
func ChunkIndex(a Address) int {
	return int(a.Sub(HeapStart) >> LogBytesInChunk)
}
