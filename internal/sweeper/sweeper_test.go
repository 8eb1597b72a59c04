package sweeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/igormart21/milha-alerta-fly/internal/models"
)

type fakeExpirer struct {
	mu    sync.Mutex
	calls []time.Time
	err   error
}

func (f *fakeExpirer) ExpireStale(ctx context.Context, now time.Time) ([]models.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, now)
	return []models.Alert{{ID: "a"}}, f.err
}

func (f *fakeExpirer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestRunOnce(t *testing.T) {
	exp := &fakeExpirer{}
	s := New(exp, time.Minute, nil)
	fixed := time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	n, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []time.Time{fixed}, exp.calls)

	exp.err = errors.New("db locked")
	_, err = s.RunOnce(context.Background())
	assert.Error(t, err)
}

func TestStart_TicksUntilCancelled(t *testing.T) {
	exp := &fakeExpirer{}
	s := New(exp, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return exp.count() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestNew_DefaultInterval(t *testing.T) {
	s := New(&fakeExpirer{}, 0, nil)
	assert.Equal(t, time.Hour, s.interval)
}
