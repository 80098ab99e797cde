package sync

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShardedMutex_SameKeySerialises(t *testing.T) {
	m := NewShardedMutex(8)

	counter := 0
	var wg sync.WaitGroup
	for range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.WithLock("request-1", func() error {
				counter++
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 200, counter)
}

func TestShardedMutex_WithLockReturnsError(t *testing.T) {
	m := NewShardedMutex(0)
	sentinel := errors.New("boom")

	err := m.WithLock("k", func() error { return sentinel })

	assert.ErrorIs(t, err, sentinel)
	assert.Len(t, m.shards, defaultShards)
}

func TestShardedMutex_ShardIsStable(t *testing.T) {
	m := NewShardedMutex(16)

	assert.Equal(t, m.shardFor("abc"), m.shardFor("abc"))
	assert.Equal(t, 0, m.shardFor(""))
	assert.Less(t, m.shardFor("xyz"), 16)
}
