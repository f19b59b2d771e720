package controls

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/greenhouse-controller/internal/model"
)

// Persister is the slice of the store the manager needs.
type Persister interface {
	Controls() (model.ControlState, error)
	UpdateControls(c model.ControlState) (model.ControlState, error)
}

// Change is the outcome of one serialized mutation.
type Change struct {
	Before model.ControlState
	After  model.ControlState
}

// Changed reports whether any actuator flipped.
func (c Change) Changed() bool {
	return c.Before.Irrigation != c.After.Irrigation ||
		c.Before.Ventilation != c.After.Ventilation ||
		c.Before.Lighting != c.After.Lighting ||
		c.Before.Heating != c.After.Heating
}

type request struct {
	mutate func(model.ControlState) model.ControlState
	reply  chan result
}

type result struct {
	change Change
	err    error
}

// Manager funnels every ControlState read-modify-write through one goroutine
// so concurrent writers cannot lose each other's updates.
type Manager struct {
	store    Persister
	requests chan request
}

func NewManager(store Persister) *Manager {
	return &Manager{
		store:    store,
		requests: make(chan request),
	}
}

// Run processes mutations until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	log.Debug().Msg("Control state manager started")
	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("Control state manager stopped")
			return
		case req := <-m.requests:
			req.reply <- m.apply(req.mutate)
		}
	}
}

func (m *Manager) apply(mutate func(model.ControlState) model.ControlState) result {
	before, err := m.store.Controls()
	if err != nil {
		return result{err: fmt.Errorf("read controls: %w", err)}
	}

	next := mutate(before)
	if next == before {
		return result{change: Change{Before: before, After: before}}
	}

	after, err := m.store.UpdateControls(next)
	if err != nil {
		return result{err: fmt.Errorf("write controls: %w", err)}
	}
	return result{change: Change{Before: before, After: after}}
}

// Update applies mutate to the current state and persists the result. A
// mutation that changes nothing is not written.
func (m *Manager) Update(ctx context.Context, mutate func(model.ControlState) model.ControlState) (Change, error) {
	req := request{mutate: mutate, reply: make(chan result, 1)}
	select {
	case m.requests <- req:
	case <-ctx.Done():
		return Change{}, ctx.Err()
	}

	select {
	case res := <-req.reply:
		return res.change, res.err
	case <-ctx.Done():
		return Change{}, ctx.Err()
	}
}

// Get returns the persisted state without queueing behind writers.
func (m *Manager) Get() (model.ControlState, error) {
	return m.store.Controls()
}

// SetIrrigation is the common single-field mutation.
func (m *Manager) SetIrrigation(ctx context.Context, on bool) (Change, error) {
	return m.Update(ctx, func(c model.ControlState) model.ControlState {
		c.Irrigation = on
		return c
	})
}

// AllOff switches every actuator off.
func (m *Manager) AllOff(ctx context.Context) (Change, error) {
	return m.Update(ctx, func(c model.ControlState) model.ControlState {
		c.Irrigation = false
		c.Ventilation = false
		c.Lighting = false
		c.Heating = false
		return c
	})
}
