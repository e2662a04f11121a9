package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlidingWindowAdmitsUpToMax(t *testing.T) {
	w := NewSlidingWindow(time.Minute, 3)
	base := time.Now()
	assert.True(t, w.CheckAt("k", base))
	assert.True(t, w.CheckAt("k", base.Add(time.Second)))
	assert.True(t, w.CheckAt("k", base.Add(2*time.Second)))
	assert.False(t, w.CheckAt("k", base.Add(3*time.Second)))
}

func TestSlidingWindowExpiresOldEvents(t *testing.T) {
	w := NewSlidingWindow(10*time.Second, 1)
	base := time.Now()
	assert.True(t, w.CheckAt("k", base))
	assert.False(t, w.CheckAt("k", base.Add(5*time.Second)))
	assert.True(t, w.CheckAt("k", base.Add(11*time.Second)))
}

func TestSlidingWindowKeysAreIndependent(t *testing.T) {
	w := NewSlidingWindow(time.Minute, 1)
	base := time.Now()
	assert.True(t, w.CheckAt("a", base))
	assert.True(t, w.CheckAt("b", base))
	assert.False(t, w.CheckAt("a", base))
}

func TestTokenBucketTryAcquire(t *testing.T) {
	b := NewTokenBucket(1, 2)
	assert.True(t, b.TryAcquire())
	assert.True(t, b.TryAcquire())
	assert.False(t, b.TryAcquire())
}

func TestTokenBucketAcquireWaitsAndTimesOut(t *testing.T) {
	b := NewTokenBucket(1, 1)
	require.True(t, b.TryAcquire())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := b.Acquire(ctx)
	assert.Error(t, err)
}

func TestBudgetManagerWarnPolicyStillApproves(t *testing.T) {
	m := NewBudgetManager(10, PolicyWarn)
	d := m.CheckBudget(15)
	assert.True(t, d.Approved)
	assert.NotEmpty(t, d.Reason)
}

func TestBudgetManagerBlockPolicyRejects(t *testing.T) {
	m := NewBudgetManager(10, PolicyBlock)
	d := m.CheckBudget(15)
	assert.False(t, d.Approved)
}

func TestBudgetManagerCommitAccumulatesSpend(t *testing.T) {
	m := NewBudgetManager(10, PolicyBlock)
	require.True(t, m.CheckBudget(4).Approved)
	m.Commit(4)
	require.True(t, m.CheckBudget(4).Approved)
	m.Commit(4)
	d := m.CheckBudget(4)
	assert.False(t, d.Approved)
	assert.InDelta(t, 0.8, m.Utilization(), 0.001)
}

func TestResourcePoolAdmitsWithinCapacity(t *testing.T) {
	p := NewResourcePool(ResourceCapacity{CPU: 4, Memory: 8, GPU: 1}, 2)
	ch, err := p.Allocate("t1", Requirements{CPU: 2, Memory: 4}, 0, false)
	require.NoError(t, err)
	<-ch

	used, n := p.InUse()
	assert.Equal(t, 1, n)
	assert.Equal(t, 2.0, used.CPU)
}

func TestResourcePoolRejectsWhenNoQueueAllowed(t *testing.T) {
	p := NewResourcePool(ResourceCapacity{CPU: 1}, 2)
	_, err := p.Allocate("t1", Requirements{CPU: 1}, 0, false)
	require.NoError(t, err)

	_, err = p.Allocate("t2", Requirements{CPU: 1}, 0, false)
	assert.ErrorIs(t, err, ErrInsufficientResources)
}

func TestResourcePoolQueuesAndAdmitsByPriorityOnRelease(t *testing.T) {
	p := NewResourcePool(ResourceCapacity{CPU: 1}, 10)
	ch1, err := p.Allocate("t1", Requirements{CPU: 1}, 0, true)
	require.NoError(t, err)
	<-ch1

	chLow, err := p.Allocate("low", Requirements{CPU: 1}, 1, true)
	require.NoError(t, err)
	chHigh, err := p.Allocate("high", Requirements{CPU: 1}, 5, true)
	require.NoError(t, err)

	p.Release("t1")

	select {
	case <-chHigh:
	case <-time.After(time.Second):
		t.Fatal("higher-priority task was not admitted first")
	}
	select {
	case <-chLow:
		t.Fatal("lower-priority task admitted before capacity freed again")
	default:
	}
}
