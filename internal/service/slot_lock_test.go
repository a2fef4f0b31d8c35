package service

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlotPairLockerMutualExclusion(t *testing.T) {
	locker := newSlotPairLocker()

	const workers = 8
	const iterations = 200
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				unlock := locker.LockPair("slot-a", "slot-b")
				counter++
				unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, workers*iterations, counter)
}

func TestSlotPairLockerOrderIndependent(t *testing.T) {
	locker := newSlotPairLocker()

	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				unlock := locker.LockPair("slot-a", "slot-b")
				counter++
				unlock()
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				unlock := locker.LockPair("slot-b", "slot-a")
				counter++
				unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 800, counter)
}

func TestSlotPairLockerSameID(t *testing.T) {
	locker := newSlotPairLocker()

	unlock := locker.LockPair("slot-a", "slot-a")
	unlock()

	require.Empty(t, locker.locks)
}

func TestSlotPairLockerCleansUpEntries(t *testing.T) {
	locker := newSlotPairLocker()

	unlock := locker.LockPair("slot-a", "slot-b")
	require.Len(t, locker.locks, 2)
	unlock()
	require.Empty(t, locker.locks)
}
