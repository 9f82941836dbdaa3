package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilLockerNeverGrants(t *testing.T) {
	locker := NewLocker(nil)
	require.Nil(t, locker)

	holder, ok, err := locker.TryLock(context.Background(), "scheduler", time.Minute)
	assert.ErrorIs(t, err, ErrLockUnavailable)
	assert.False(t, ok)
	assert.Empty(t, holder)

	assert.NoError(t, locker.Release(context.Background(), "scheduler", "anything"))
}
