package monitoring

import "time"

// History keeps utilization at several resolutions. FifteenMinutes receives every sample;
// the coarser windows take an average of the finest one at most once per their interval.
type History struct {
	FifteenMinutes *Buffer
	OneHour        *Buffer
	ThreeHours     *Buffer
	LifeTime       *Buffer
}

func NewHistory(pollInterval time.Duration) *History {
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	h := new(History)

	h.FifteenMinutes = NewBuffer(pollInterval, int64(15*time.Minute/pollInterval))

	// 1h: 30s → 120 points
	h.OneHour = coarser(h.FifteenMinutes, 30*time.Second, time.Hour)

	// 3h: 2m → 90 points
	h.ThreeHours = coarser(h.FifteenMinutes, 2*time.Minute, 3*time.Hour)

	// 4 weeks: 5m → 8064 points
	h.LifeTime = coarser(h.FifteenMinutes, 5*time.Minute, 4*7*24*time.Hour)
	return h
}

func coarser(base *Buffer, interval, span time.Duration) *Buffer {
	if interval < base.Interval {
		interval = base.Interval
	}
	b := NewBuffer(interval, int64(span/interval))
	b.AverageByLast = int(interval / base.Interval)
	if b.AverageByLast < 1 {
		b.AverageByLast = 1
	}
	return b
}

func (h *History) Add(at time.Time, value int64) {
	h.FifteenMinutes.Add(at, value)

	for _, b := range []*Buffer{h.OneHour, h.ThreeHours, h.LifeTime} {
		if h.FifteenMinutes.HasLast(b.AverageByLast) && b.IsTimeToUpdate(at) {
			b.Add(at, h.FifteenMinutes.LastAverage(b.AverageByLast))
		}
	}
}

func (h *History) Datasets() Datasets {
	return Datasets{
		FifteenMinutes: records(h.FifteenMinutes),
		OneHour:        records(h.OneHour),
		ThreeHours:     records(h.ThreeHours),
		LifeTime:       records(h.LifeTime),
	}
}

func records(b *Buffer) []Record {
	points := b.Points()
	out := make([]Record, 0, len(points))
	for _, p := range points {
		out = append(out, Record{Timestamp: p.Timestamp.Unix(), CpuUtilization: p.Value})
	}
	return out
}
