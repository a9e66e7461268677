package sweep

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextRun(t *testing.T) {
	cases := map[string]struct {
		now  time.Time
		want time.Time
	}{
		"earlier same day": {time.Date(2024, 3, 3, 9, 0, 0, 0, time.UTC), time.Date(2024, 3, 3, 10, 0, 0, 0, time.UTC)},
		"exactly at slot":  {time.Date(2024, 3, 3, 10, 0, 0, 0, time.UTC), time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)},
		"later same day":   {time.Date(2024, 3, 3, 11, 0, 0, 0, time.UTC), time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)},
		"midweek":          {time.Date(2024, 3, 6, 8, 0, 0, 0, time.UTC), time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got := NextRun(tc.now, time.UTC, time.Sunday, 10, 0)
			assert.True(t, tc.want.Equal(got), "got %s", got)
		})
	}
}

type countingRunner struct{ n atomic.Int32 }

func (r *countingRunner) Run(ctx context.Context) (Report, error) {
	r.n.Add(1)
	return Report{}, nil
}

func TestScheduler_FiresAtSlotAndStops(t *testing.T) {
	slot := time.Date(2024, 3, 3, 10, 0, 0, 0, time.UTC)
	base := slot.Add(-20 * time.Millisecond)
	start := time.Now()

	r := &countingRunner{}
	s := NewScheduler(r, time.Sunday, 10, 0, time.UTC, nil)
	s.Now = func() time.Time { return base.Add(time.Since(start)) }
	s.Start(context.Background())

	require.Eventually(t, func() bool { return r.n.Load() == 1 }, time.Second, 5*time.Millisecond)
	s.Stop()
	assert.Equal(t, int32(1), r.n.Load())
	s.Stop()
}
