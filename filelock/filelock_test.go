package filelock

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.lock")
	lock := New(path, time.Second, time.Second)

	release, err := lock.Acquire()
	require.NoError(t, err)
	_, statErr := os.Stat(path)
	require.NoError(t, statErr)

	release()
	_, statErr = os.Stat(path)
	require.True(t, os.IsNotExist(statErr))
}

func TestAcquireTimesOutWhileHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.lock")
	holder := New(path, time.Second, time.Minute)
	release, err := holder.Acquire()
	require.NoError(t, err)
	defer release()

	contender := New(path, 150*time.Millisecond, time.Minute)
	_, err = contender.Acquire()
	require.ErrorIs(t, err, ErrTimeout)
}

func TestStaleLockIsBroken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.lock")
	require.NoError(t, os.WriteFile(path, []byte("12345 stale"), 0o644))
	old := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(path, old, old))

	lock := New(path, time.Second, 10*time.Second)
	release, err := lock.Acquire()
	require.NoError(t, err)
	release()
}

func TestWithLockSerializesWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.lock")
	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lock := New(path, 5*time.Second, time.Minute)
			require.NoError(t, lock.WithLock(func() error {
				current := counter
				time.Sleep(time.Millisecond)
				counter = current + 1
				return nil
			}))
		}()
	}
	wg.Wait()
	require.Equal(t, 16, counter)
}
