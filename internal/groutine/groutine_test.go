//go:build test

package groutine_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/srg/potlink/internal/groutine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoLabelsContext(t *testing.T) {
	done := make(chan string, 1)
	groutine.Go(nil, "named-worker", func(ctx context.Context) {
		done <- groutine.GetName(ctx)
	})
	assert.Equal(t, "named-worker", <-done, "goroutine name MUST be visible through context")
	assert.Empty(t, groutine.GetName(context.Background()))
}

func TestGroupStopWaitsForMembers(t *testing.T) {
	// GOAL: Verify Stop cancels member contexts and blocks until they exit
	//
	// TEST SCENARIO: start 3 members blocked on ctx → Stop → all exited → late Go refused

	g := groutine.NewGroup(context.Background())
	var exited atomic.Int32
	started := make(chan struct{}, 3)

	for i := 0; i < 3; i++ {
		require.True(t, g.Go("member", func(ctx context.Context) {
			started <- struct{}{}
			<-ctx.Done()
			exited.Add(1)
		}))
	}
	for i := 0; i < 3; i++ {
		<-started
	}

	g.Stop()
	assert.EqualValues(t, 3, exited.Load(), "Stop MUST wait for every member")
	assert.False(t, g.Go("late", func(context.Context) {}), "stopped group MUST refuse new members")
	g.Stop()
}
