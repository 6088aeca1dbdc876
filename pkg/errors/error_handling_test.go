package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfWrapsCauseAndKind(t *testing.T) {
	cause := fmt.Errorf("dial tcp: connection refused")
	err := Of("sockdriver.Connect", KindConnectFailed, cause)

	assert.Equal(t, KindConnectFailed, err.Kind)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "sockdriver.Connect")
	assert.Contains(t, err.Error(), "connect_failed")
}

func TestIsMatchesOnKindOnly(t *testing.T) {
	a := Of("turn.Alloc", KindAllocRejected, fmt.Errorf("486 Allocation Quota Reached"))
	b := New("turn.Refresh", KindAllocRejected).Build()

	assert.True(t, errors.Is(a, b))

	c := New("turn.Alloc", KindAuthFailed).Build()
	assert.False(t, errors.Is(a, c))
}

func TestKindOfExtractsWrappedKind(t *testing.T) {
	inner := Of("turn.sendRequest", KindTimedOut, nil)
	wrapped := fmt.Errorf("facade.SendTo: %w", inner)

	kind, ok := KindOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, KindTimedOut, kind)
}

func TestBuilderRetryable(t *testing.T) {
	err := New("turn.sendRequest", KindTimedOut).Retryable().Build()
	assert.True(t, err.Retryable)
}
