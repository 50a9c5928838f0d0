//go:build test

package ringchan_test

import (
	"testing"

	"github.com/srg/potlink/internal/ringchan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingChannelOverwritesOldest(t *testing.T) {
	// GOAL: Verify producers never block and only the newest values survive
	//
	// TEST SCENARIO: capacity 3 → send 0..9 → receive 7,8,9 → stats account for drops

	rc := ringchan.New[int](3)
	for i := 0; i < 10; i++ {
		rc.Send(i)
	}
	require.Equal(t, 3, rc.Len())

	var got []int
	for {
		v, ok := rc.TryReceive()
		if !ok {
			break
		}
		got = append(got, v)
	}
	assert.Equal(t, []int{7, 8, 9}, got, "oldest values MUST be overwritten")
	assert.Equal(t, ringchan.Stats{Written: 10, Overwritten: 7}, rc.Stats())
}

func TestRingChannelClose(t *testing.T) {
	rc := ringchan.New[string](1)
	rc.Send("a")
	rc.Close()
	rc.Close()
	assert.False(t, rc.Send("b"), "send after close MUST be ignored")

	v, ok := <-rc.C()
	assert.True(t, ok)
	assert.Equal(t, "a", v)
	_, ok = <-rc.C()
	assert.False(t, ok, "channel MUST be closed")
}

func TestRingChannelPanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { ringchan.New[int](0) })
}
