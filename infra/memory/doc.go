// Package memory provides the low-level primitives the collector is
// built on: raw Address and ObjectReference values, a simulated
// chunk-mapped address space, typed buffer pools and a lock-free SPSC
// ring.
//
// The memory package is dependency-free. It never interprets object
// headers; that is left to the host binding.
package memory
