package monitoring

import "time"

// DataPoint is a CPU utilization reading, in percent of one core.
type DataPoint struct {
	Timestamp time.Time
	Value     int64
}

// Buffer is a fixed size ring of data points that accepts at most one point per Interval.
type Buffer struct {
	Buffer        []DataPoint
	NextIndex     int64
	Max           int64
	Interval      time.Duration
	AverageByLast int
	LastUpdated   time.Time
}

func NewBuffer(interval time.Duration, size int64) *Buffer {
	if size < 1 {
		size = 1
	}
	p := new(Buffer)
	p.Interval = interval
	p.Max = size
	p.NextIndex = 0
	p.Buffer = make([]DataPoint, size)
	return p
}

func (b *Buffer) Add(at time.Time, value int64) {
	b.Buffer[b.NextIndex%b.Max] = DataPoint{Timestamp: at, Value: value}
	b.NextIndex++
	b.LastUpdated = at
}

// Len is the number of points currently held.
func (b *Buffer) Len() int {
	if b.NextIndex >= b.Max {
		return int(b.Max)
	}
	return int(b.NextIndex)
}

func (b *Buffer) Average() int64 {
	n := b.Len()
	if n == 0 {
		return 0
	}
	return b.LastAverage(n)
}

func (b *Buffer) LastAverage(last int) int64 {
	if last <= 0 {
		return 0
	}
	if int64(last) > b.NextIndex || int64(last) > b.Max {
		return b.Average()
	}
	var sum int64 = 0
	fromIndex := b.NextIndex - int64(last)
	for i := fromIndex; i < b.NextIndex; i++ {
		sum += b.Buffer[i%b.Max].Value
	}
	return sum / int64(last)
}

func (b *Buffer) Last(last int) []DataPoint {
	if !b.HasLast(last) {
		// data is not ready
		return []DataPoint{}
	}
	p := make([]DataPoint, last)
	fromIndex := b.NextIndex - int64(last)
	for i := fromIndex; i < b.NextIndex; i++ {
		p[i-fromIndex] = b.Buffer[i%b.Max]
	}
	return p
}

// Points returns every held point, oldest first.
func (b *Buffer) Points() []DataPoint {
	return b.Last(b.Len())
}

func (b *Buffer) HasLast(last int) bool {
	return b.NextIndex >= int64(last) && int64(last) <= b.Max
}

func (b *Buffer) IsTimeToUpdate(now time.Time) bool {
	if b.NextIndex == 0 {
		return true
	}
	return !b.LastUpdated.After(now.Add(-b.Interval))
}
