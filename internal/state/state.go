package state

import (
	"sync"
	"sync/atomic"

	"github.com/thatsimonsguy/incubator-controller/internal/model"
)

// Pending is everything submitted since the last Take.
type Pending struct {
	Overrides map[model.ActuatorID]model.State
	Mode      *model.Mode
}

func (p Pending) Empty() bool {
	return len(p.Overrides) == 0 && p.Mode == nil
}

// Channel is the only state shared between the control loop and the control plane.
// Snapshots are swapped whole; submissions queue until the loop takes them.
type Channel struct {
	latest atomic.Pointer[model.Snapshot]

	mu        sync.Mutex
	overrides map[model.ActuatorID]model.State
	mode      *model.Mode
}

func NewChannel(initial *model.Snapshot) *Channel {
	c := &Channel{overrides: make(map[model.ActuatorID]model.State)}
	if initial != nil {
		c.latest.Store(initial)
	}
	return c
}

func (c *Channel) Publish(s *model.Snapshot) {
	c.latest.Store(s)
}

// Latest never blocks. Nil until the first publish.
func (c *Channel) Latest() *model.Snapshot {
	return c.latest.Load()
}

// SubmitOverride queues a desired state. Later submissions for the same
// actuator replace earlier ones.
func (c *Channel) SubmitOverride(id model.ActuatorID, st model.State) {
	c.mu.Lock()
	c.overrides[id] = st
	c.mu.Unlock()
}

func (c *Channel) SubmitModeSwitch(m model.Mode) {
	c.mu.Lock()
	c.mode = &m
	c.mu.Unlock()
}

// Take drains all pending submissions.
func (c *Channel) Take() Pending {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := Pending{Overrides: c.overrides, Mode: c.mode}
	c.overrides = make(map[model.ActuatorID]model.State)
	c.mode = nil
	return p
}
