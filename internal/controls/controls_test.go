package controls

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/greenhouse-controller/internal/model"
	"github.com/thatsimonsguy/greenhouse-controller/internal/store"
)

func startManager(t *testing.T) (*Manager, *store.SQLite) {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	m := NewManager(s)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go m.Run(ctx)
	return m, s
}

func TestUpdatePersistsAndReportsChange(t *testing.T) {
	m, s := startManager(t)

	change, err := m.SetIrrigation(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, change.Changed())
	assert.False(t, change.Before.Irrigation)
	assert.True(t, change.After.Irrigation)
	assert.True(t, change.After.Ventilation)

	persisted, err := s.Controls()
	require.NoError(t, err)
	assert.True(t, persisted.Irrigation)

	change, err = m.SetIrrigation(context.Background(), true)
	require.NoError(t, err)
	assert.False(t, change.Changed())
}

func TestConcurrentUpdatesAreSerialized(t *testing.T) {
	m, _ := startManager(t)

	// Each writer flips a different field with a read-modify-write; none may be lost.
	var wg sync.WaitGroup
	mutations := []func(model.ControlState) model.ControlState{
		func(c model.ControlState) model.ControlState { c.Irrigation = true; return c },
		func(c model.ControlState) model.ControlState { c.Lighting = true; return c },
		func(c model.ControlState) model.ControlState { c.Heating = true; return c },
		func(c model.ControlState) model.ControlState { c.Ventilation = false; return c },
	}
	for _, mutate := range mutations {
		wg.Add(1)
		go func(fn func(model.ControlState) model.ControlState) {
			defer wg.Done()
			_, err := m.Update(context.Background(), fn)
			assert.NoError(t, err)
		}(mutate)
	}
	wg.Wait()

	got, err := m.Get()
	require.NoError(t, err)
	assert.True(t, got.Irrigation)
	assert.True(t, got.Lighting)
	assert.True(t, got.Heating)
	assert.False(t, got.Ventilation)
}

func TestAllOff(t *testing.T) {
	m, _ := startManager(t)

	_, err := m.Update(context.Background(), func(c model.ControlState) model.ControlState {
		c.Irrigation, c.Lighting, c.Heating = true, true, true
		return c
	})
	require.NoError(t, err)

	change, err := m.AllOff(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.ControlState{LastUpdated: change.After.LastUpdated}, change.After)
}

func TestUpdateWithoutRunnerHonoursContext(t *testing.T) {
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	m := NewManager(s)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = m.SetIrrigation(ctx, true)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
