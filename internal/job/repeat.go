package job

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/vk/hopgrid/internal/config"
)

// repeat is the start entry's loop configuration. A schedule wins over a
// fixed interval.
type repeat struct {
	enabled  bool
	interval time.Duration
	schedule cron.Schedule
	max      int
}

func parseRepeat(opts config.Options) (repeat, error) {
	r := repeat{
		enabled:  opts.Bool("repeat", false),
		interval: opts.Duration("interval", 0),
		max:      opts.Int("max_iterations", 0),
	}
	if spec := opts.String("schedule", ""); spec != "" {
		s, err := cron.ParseStandard(spec)
		if err != nil {
			return r, fmt.Errorf("start entry: invalid schedule %q: %w", spec, err)
		}
		r.schedule = s
		r.enabled = true
	}
	if r.max < 0 {
		return r, fmt.Errorf("start entry: max_iterations must not be negative, got %d", r.max)
	}
	return r, nil
}

// again reports whether another iteration follows iteration n.
func (r repeat) again(n int) bool {
	return r.enabled && (r.max == 0 || n < r.max)
}

func (r repeat) next(now time.Time) time.Time {
	if r.schedule != nil {
		return r.schedule.Next(now)
	}
	return now.Add(r.interval)
}

// wait blocks until the next iteration is due. It returns false when ctx
// ends first.
func (r repeat) wait(ctx context.Context) bool {
	d := time.Until(r.next(time.Now()))
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
