package jobs

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cadenceHorizon covers every distinct gap of a standard five-field schedule
// except month-length effects.
const cadenceHorizon = 8 * 24 * time.Hour

// MaxGap returns the longest interval between two consecutive runs of a standard
// cron expression. This is the sweep period the reminder bands are checked against.
func MaxGap(spec string) (time.Duration, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return 0, fmt.Errorf("parse schedule %q: %w", spec, err)
	}

	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(cadenceHorizon)

	var maxGap time.Duration
	prev := schedule.Next(start.Add(-time.Second))
	if prev.IsZero() {
		return 0, fmt.Errorf("schedule %q never fires", spec)
	}

	for prev.Before(end) {
		next := schedule.Next(prev)
		if next.IsZero() {
			break
		}
		if gap := next.Sub(prev); gap > maxGap {
			maxGap = gap
		}
		prev = next
	}

	if maxGap == 0 {
		return 0, fmt.Errorf("schedule %q fires less than once per %s", spec, cadenceHorizon)
	}

	return maxGap, nil
}
