package verifier

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyPoolExclusiveHold(t *testing.T) {
	cred := &Credential{Key: "k1", DisplayName: "one", RequestsPerMin: 60}
	pool := NewKeyPool([]*Credential{cred})

	ctx := context.Background()

	held, err := pool.Acquire(ctx)
	require.NoError(t, err)
	require.Same(t, cred, held)

	// The only credential is held, so a second acquire must block
	blocked, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(blocked)
	assert.Error(t, err)

	pool.Release(held)

	again, err := pool.Acquire(ctx)
	require.NoError(t, err)
	assert.Same(t, cred, again)
}

func TestKeyPoolExclusivityUnderConcurrency(t *testing.T) {
	creds := []*Credential{
		{Key: "k1", RequestsPerMin: 6000},
		{Key: "k2", RequestsPerMin: 6000},
	}
	pool := NewKeyPool(creds)

	var mu sync.Mutex
	inUse := make(map[*Credential]bool)
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cred, err := pool.Acquire(context.Background())
			if err != nil {
				t.Error(err)
				return
			}

			mu.Lock()
			if inUse[cred] {
				t.Errorf("credential %s held by two workers at once", cred.Key)
			}
			inUse[cred] = true
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inUse[cred] = false
			mu.Unlock()

			pool.Release(cred)
		}()
	}

	wg.Wait()
}

func TestDelayFor(t *testing.T) {
	cred := &Credential{Key: "k1", RequestsPerMin: 60} // 1s spacing
	pool := NewKeyPool([]*Credential{cred})

	// Never used: no delay required
	assert.Equal(t, time.Duration(0), pool.DelayFor(cred))

	pool.TrackUsage(cred)

	delay := pool.DelayFor(cred)
	assert.Greater(t, delay, 900*time.Millisecond)
	assert.LessOrEqual(t, delay, time.Second)

	// A stamp older than the interval clears the delay
	cred.mu.Lock()
	cred.lastUsedAt = time.Now().Add(-2 * time.Second)
	cred.mu.Unlock()
	assert.Equal(t, time.Duration(0), pool.DelayFor(cred))
}

func TestTrackUsageCounts(t *testing.T) {
	cred := &Credential{Key: "k1", RequestsPerMin: 60}
	pool := NewKeyPool([]*Credential{cred})

	pool.TrackUsage(cred)
	pool.TrackUsage(cred)

	assert.Equal(t, int64(2), cred.RequestsIssued())
	assert.WithinDuration(t, time.Now(), cred.LastUsedAt(), time.Second)
}

func TestTotalCapacity(t *testing.T) {
	pool := NewKeyPool([]*Credential{
		{Key: "k1", RequestsPerMin: 60},
		{Key: "k2", RequestsPerMin: 90},
	})

	perMin, perHour := pool.TotalCapacity()
	assert.Equal(t, 150, perMin)
	assert.Equal(t, 9000, perHour)
}
