package ralph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadState_Missing(t *testing.T) {
	st, err := LoadState(newStore(t))
	require.NoError(t, err)
	assert.Equal(t, State{}, *st)
}

func TestPauseResume(t *testing.T) {
	fixedNow(t)
	store := newStore(t)

	require.NoError(t, Pause(store))
	st, err := LoadState(store)
	require.NoError(t, err)
	assert.True(t, st.Paused)
	assert.Equal(t, "2026-03-01T12:00:00Z", st.UpdatedAt)

	require.NoError(t, Resume(store))
	st, err = LoadState(store)
	require.NoError(t, err)
	assert.False(t, st.Paused)
}

func TestStatus(t *testing.T) {
	store := newStore(t)
	_, err := Status(store, 3)
	assert.True(t, errors.Is(err, ErrNoPRD))

	require.NoError(t, SavePRD(store.PRDPath(), samplePRD()))
	require.NoError(t, SaveState(store, &State{Iteration: 4, LastStop: StopMaxIterations}))

	r, err := Status(store, 3)
	require.NoError(t, err)
	assert.Equal(t, "demo", r.Project)
	assert.Equal(t, 4, r.State.Iteration)
	assert.Equal(t, StopMaxIterations, r.State.LastStop)
	require.NotNil(t, r.Next)
	assert.Equal(t, "US-002", r.Next.ID)
	assert.Len(t, r.Stories, 5)
	assert.Equal(t, 1, r.Summary.Completed)
}
