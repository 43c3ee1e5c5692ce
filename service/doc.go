// Package service wires one managed heap: a plan, its reference
// processor, the collector workers and the coordinator.
//
// It is the API a host binds to for allocation, safe points, write
// barriers and liveness queries, decoupled from transports like gRPC.
package service
