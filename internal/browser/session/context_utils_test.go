// internal/browser/session/context_utils_test.go
package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ctxKey string

const testKey ctxKey = "target"

func TestCombineContext(t *testing.T) {
	t.Run("InheritsValuesFromPrimary", func(t *testing.T) {
		ctx1 := context.WithValue(context.Background(), testKey, "tab-1")
		combined, cancel := CombineContext(ctx1, context.Background())
		defer cancel()

		assert.Equal(t, "tab-1", combined.Value(testKey))
		assert.NoError(t, combined.Err())
	})

	t.Run("CancelledByPrimary", func(t *testing.T) {
		ctx1, cancel1 := context.WithCancel(context.Background())
		combined, cancel := CombineContext(ctx1, context.Background())
		defer cancel()

		cancel1()
		assert.Eventually(t, func() bool { return combined.Err() != nil }, 100*time.Millisecond, 5*time.Millisecond)
		assert.ErrorIs(t, combined.Err(), context.Canceled)
	})

	t.Run("CancelledBySecondaryDeadline", func(t *testing.T) {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel2()
		combined, cancel := CombineContext(context.Background(), ctx2)
		defer cancel()

		<-combined.Done()
		assert.ErrorIs(t, ctx2.Err(), context.DeadlineExceeded)
		// The combined context is derived with WithCancel, so it reports Canceled.
		assert.ErrorIs(t, combined.Err(), context.Canceled)
	})

	t.Run("ExplicitCancellation", func(t *testing.T) {
		combined, cancel := CombineContext(context.Background(), context.Background())
		cancel()
		assert.ErrorIs(t, combined.Err(), context.Canceled)
	})
}

func TestDetach(t *testing.T) {
	t.Run("InheritsValues", func(t *testing.T) {
		detached := Detach(context.WithValue(context.Background(), testKey, "tab-1"))
		assert.Equal(t, "tab-1", detached.Value(testKey))
	})

	t.Run("IgnoresParentCancellationAndDeadline", func(t *testing.T) {
		parent, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		detached := Detach(parent)

		<-parent.Done()
		_, ok := detached.Deadline()
		assert.False(t, ok)
		assert.Nil(t, detached.Done())
		assert.NoError(t, detached.Err())
	})

	t.Run("DerivedTimeoutStillApplies", func(t *testing.T) {
		parent, cancelParent := context.WithCancel(context.Background())
		derived, cancel := context.WithTimeout(Detach(parent), 20*time.Millisecond)
		defer cancel()

		cancelParent()
		require.NoError(t, derived.Err(), "parent cancellation must not reach the derived context")
		<-derived.Done()
		assert.ErrorIs(t, derived.Err(), context.DeadlineExceeded)
	})
}
