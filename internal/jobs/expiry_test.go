package jobs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type mockExpirer struct {
	count int64
	calls atomic.Int32
}

func (m *mockExpirer) ExpirePending(ctx context.Context) (int64, error) {
	m.calls.Add(1)
	return m.count, nil
}

func TestExpiryJob(t *testing.T) {
	t.Run("creates job with correct interval", func(t *testing.T) {
		job := NewExpiryJob(nil, 5*time.Minute)

		assert.NotNil(t, job)
		assert.Equal(t, 5*time.Minute, job.interval)
	})

	t.Run("starts and stops without panic", func(t *testing.T) {
		expirer := &mockExpirer{}

		job := NewExpiryJob(expirer, 100*time.Millisecond)

		job.Start()
		time.Sleep(50 * time.Millisecond)
		job.Stop()
	})

	t.Run("sweeps on start", func(t *testing.T) {
		expirer := &mockExpirer{count: 3}

		job := NewExpiryJob(expirer, 1*time.Hour)

		job.Start()
		time.Sleep(10 * time.Millisecond)
		job.Stop()

		assert.GreaterOrEqual(t, expirer.calls.Load(), int32(1))
	})
}
