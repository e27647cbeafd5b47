package identity

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperationTableBeginAndFinish(t *testing.T) {
	var seen []transition
	table := newOperationTable(func(class OperationClass, from, to OperationState) {
		seen = append(seen, transition{class: class, from: from, to: to})
	})

	assert.Equal(t, StateIdle, table.state(ClassSignIn))

	finish, err := table.begin(ClassSignIn)
	require.NoError(t, err)
	assert.Equal(t, StatePending, table.state(ClassSignIn))

	finish(errors.New("boom"))
	finish(nil)
	assert.Equal(t, StateIdle, table.state(ClassSignIn))

	assert.Equal(t, []transition{
		{class: ClassSignIn, from: StateIdle, to: StatePending},
		{class: ClassSignIn, from: StatePending, to: StateFailed},
		{class: ClassSignIn, from: StateFailed, to: StateIdle},
	}, seen)
}

func TestOperationTableRejectsPendingClass(t *testing.T) {
	table := newOperationTable()

	finish, err := table.begin(ClassProviderPopup)
	require.NoError(t, err)

	again, err := table.begin(ClassProviderPopup)
	assert.Nil(t, again)
	require.Error(t, err)
	assert.Equal(t, KindOperationAlreadyPending, KindOf(err))
	assert.Equal(t, StatePending, table.state(ClassProviderPopup), "rejection leaves the pending operation alone")

	other, err := table.begin(ClassPasswordReset)
	require.NoError(t, err)
	other(nil)

	finish(nil)

	next, err := table.begin(ClassProviderPopup)
	require.NoError(t, err)
	next(nil)
}

func TestOperationTableSingleWinnerUnderContention(t *testing.T) {
	table := newOperationTable()

	var (
		wg       sync.WaitGroup
		winners  atomic.Int32
		rejected atomic.Int32
		finishes = make(chan func(error), 32)
	)

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			finish, err := table.begin(ClassSignUp)
			if err != nil {
				rejected.Add(1)
				return
			}
			winners.Add(1)
			finishes <- finish
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
	assert.Equal(t, int32(31), rejected.Load())

	(<-finishes)(nil)
	assert.Equal(t, StateIdle, table.state(ClassSignUp))
}

func TestOperationTableInvalidTransitionPanics(t *testing.T) {
	table := newOperationTable()

	assert.Panics(t, func() {
		table.mu.Lock()
		defer table.mu.Unlock()
		table.move(ClassSignIn, StateSucceeded)
	})
}
