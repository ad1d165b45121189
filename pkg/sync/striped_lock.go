package sync

import (
	"fmt"
	"sort"
	base "sync"
)

const (
	hashEntriesPerLock = 200
)

// StripedLock is a partitioned locking mechanism that consistently maps a key
// space to a set of locks. This provides concurrent data access while also
// limiting the total memory footprint.
type StripedLock struct {
	locks    []base.RWMutex
	hashRing *ring
}

// NewStripedLock returns a new StripedLock with a static number of stripes.
func NewStripedLock(stripes uint) *StripedLock {
	ringEntries := make(map[string]interface{})
	for i := 0; i < int(stripes); i++ {
		ringEntries[fmt.Sprintf("lock%d", i)] = i
	}

	return &StripedLock{
		locks:    make([]base.RWMutex, stripes),
		hashRing: newRing(ringEntries, hashEntriesPerLock),
	}
}

// Get gets the lock for a key
func (l *StripedLock) Get(key []byte) *base.RWMutex {
	return &l.locks[l.stripe(key)]
}

// LockAll acquires the write lock for every key and returns a function that
// releases them. Stripes are always acquired in ascending order, and a stripe
// shared by multiple keys is only acquired once, so concurrent callers with
// overlapping key sets cannot deadlock.
func (l *StripedLock) LockAll(keys ...[]byte) (unlock func()) {
	unique := make(map[int]struct{})
	for _, key := range keys {
		unique[l.stripe(key)] = struct{}{}
	}

	stripes := make([]int, 0, len(unique))
	for stripe := range unique {
		stripes = append(stripes, stripe)
	}
	sort.Ints(stripes)

	for _, stripe := range stripes {
		l.locks[stripe].Lock()
	}

	var once base.Once
	return func() {
		once.Do(func() {
			for i := len(stripes) - 1; i >= 0; i-- {
				l.locks[stripes[i]].Unlock()
			}
		})
	}
}

func (l *StripedLock) stripe(key []byte) int {
	return l.hashRing.shard(key).(int)
}
