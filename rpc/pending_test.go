package rpc

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parloq/topicrpc/contracts"
)

func TestPendingCallsAddResolve(t *testing.T) {
	p := newPendingCalls()

	ch, err := p.add("corr-1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.outstanding())

	assert.True(t, p.resolve("corr-1", []byte("result")))
	assert.Equal(t, []byte("result"), <-ch)
	assert.Equal(t, 0, p.outstanding())
}

func TestPendingCallsResolveUnknown(t *testing.T) {
	p := newPendingCalls()

	assert.False(t, p.resolve("never-registered", []byte("late")))
}

func TestPendingCallsRemove(t *testing.T) {
	p := newPendingCalls()

	_, err := p.add("corr-1")
	require.NoError(t, err)

	assert.True(t, p.remove("corr-1"))
	assert.False(t, p.remove("corr-1"))

	// A reply arriving after removal finds nothing to resolve.
	assert.False(t, p.resolve("corr-1", []byte("late")))
}

func TestPendingCallsDuplicateID(t *testing.T) {
	p := newPendingCalls()

	_, err := p.add("corr-1")
	require.NoError(t, err)

	_, err = p.add("corr-1")
	assert.ErrorIs(t, err, errDuplicateCorrelationID)
}

func TestPendingCallsClose(t *testing.T) {
	p := newPendingCalls()

	for i := 0; i < 3; i++ {
		_, err := p.add(fmt.Sprintf("corr-%d", i))
		require.NoError(t, err)
	}

	assert.Equal(t, 3, p.closeAll())
	assert.Equal(t, 0, p.closeAll())
	assert.Equal(t, 0, p.outstanding())

	_, err := p.add("corr-new")
	assert.ErrorIs(t, err, contracts.ErrClientClosed)

	assert.False(t, p.resolve("corr-0", []byte("late")))
}

// Exactly one of a concurrent resolve and remove may win an entry.
func TestPendingCallsResolveRemoveRace(t *testing.T) {
	p := newPendingCalls()

	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("corr-%d", i)
		_, err := p.add(id)
		require.NoError(t, err)

		var resolved, removed bool
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			resolved = p.resolve(id, []byte("reply"))
		}()
		go func() {
			defer wg.Done()
			removed = p.remove(id)
		}()
		wg.Wait()

		assert.NotEqual(t, resolved, removed, "exactly one of resolve/remove must win")
		assert.Equal(t, 0, p.outstanding())
	}
}
