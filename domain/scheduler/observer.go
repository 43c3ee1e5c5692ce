package scheduler

import "time"

// Observer receives scheduler events. Methods are called concurrently
// from worker goroutines and must not block.
type Observer interface {
	CycleBegin(c *Cycle)
	StageOpened(c *Cycle, s Stage)
	StageClosed(c *Cycle, s Stage)
	PacketExecuted(c *Cycle, s Stage, name string, d time.Duration)
	CycleEnd(c *Cycle, pause time.Duration)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) CycleBegin(*Cycle) {}
func (NopObserver) StageOpened(*Cycle, Stage) {}
func (NopObserver) StageClosed(*Cycle, Stage) {}
func (NopObserver) PacketExecuted(*Cycle, Stage, string, time.Duration) {}
func (NopObserver) CycleEnd(*Cycle, time.Duration) {}

// Observers fans events out to several observers.
type Observers []Observer

func (o Observers) CycleBegin(c *Cycle) {
	for _, x := range o {
		x.CycleBegin(c)
	}
}

func (o Observers) StageOpened(c *Cycle, s Stage) {
	for _, x := range o {
		x.StageOpened(c, s)
	}
}

func (o Observers) StageClosed(c *Cycle, s Stage) {
	for _, x := range o {
		x.StageClosed(c, s)
	}
}

func (o Observers) PacketExecuted(c *Cycle, s Stage, name string, d time.Duration) {
	for _, x := range o {
		x.PacketExecuted(c, s, name, d)
	}
}

func (o Observers) CycleEnd(c *Cycle, pause time.Duration) {
	for _, x := range o {
		x.CycleEnd(c, pause)
	}
}
