package monitoring

import (
	"reflect"
	"testing"
	"time"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func at(i int) time.Time {
	return epoch.Add(time.Duration(i) * time.Minute)
}

func values(points []DataPoint) []int64 {
	out := make([]int64, 0, len(points))
	for _, p := range points {
		out = append(out, p.Value)
	}
	return out
}

func TestBufferOperations(t *testing.T) {
	t.Log("Give a Buffer with size=3")
	buffer := NewBuffer(0, 3)

	if buffer.Average() != 0 {
		t.Fatal("Average of an empty buffer should be 0")
	}

	t.Log("Add elements [1, 3]")
	buffer.Add(at(0), 1)
	buffer.Add(at(1), 3)

	if buffer.Average() != 2 {
		t.Fatal("Average should be 2")
	}
	t.Log("Average is 2")

	t.Log("Add new element [2] => [1, 3, 2]")
	buffer.Add(at(2), 2)
	if buffer.Average() != 2 {
		t.Fatal("Average should be 2")
	}

	t.Log("Add new element [1] => [1, 3, 2, 1] => [3, 2, 1]")
	buffer.Add(at(3), 1)
	if buffer.Average() != 2 {
		t.Fatal("Average should be 2")
	}
	if buffer.Len() != 3 {
		t.Fatalf("Len should stay at 3, got %d", buffer.Len())
	}
	if !reflect.DeepEqual([]int64{3, 2, 1}, values(buffer.Points())) {
		t.Fatalf("Points should be [3, 2, 1] oldest first, got %v", values(buffer.Points()))
	}
}

func TestLastElements(t *testing.T) {
	t.Log("Give a Buffer with size=10")
	buffer := NewBuffer(0, 10)

	if len(buffer.Last(2)) != 0 {
		t.Fatal("Last 2 should be empty before data is ready")
	}

	t.Log("Set initial elements [1234, 55, 66]")
	buffer.Add(at(0), 1234)
	buffer.Add(at(1), 55)
	buffer.Add(at(2), 66)

	if !reflect.DeepEqual([]DataPoint{{at(1), 55}, {at(2), 66}}, buffer.Last(2)) {
		t.Fatal("Last 2 should be [55, 66]")
	}

	t.Log("Add elements [78, 763]")
	buffer.Add(at(3), 78)
	buffer.Add(at(4), 763)
	if !reflect.DeepEqual([]int64{78, 763}, values(buffer.Last(2))) {
		t.Fatal("Last 2 should be [78, 763]")
	}
}

func TestLastElementsAverage(t *testing.T) {
	t.Log("Give a Buffer with size=10")
	buffer := NewBuffer(0, 10)
	for i, v := range []int64{3, 2, 3, 4} {
		buffer.Add(at(i), v)
	}

	if buffer.Average() != 3 {
		t.Fatal("All elements average is 3")
	}
	if buffer.LastAverage(3) != 3 {
		t.Fatal("Last 3 elements average should be 3")
	}

	t.Log("Add 3 elements [3, 2, 3, 4] + [1, 90, 5]")
	for i, v := range []int64{1, 90, 5} {
		buffer.Add(at(4+i), v)
	}
	if buffer.LastAverage(4) != 25 {
		t.Fatal("Last 4 elements average should be 25")
	}

	t.Log("Ask for more elements than held")
	if buffer.LastAverage(20) != buffer.Average() {
		t.Fatal("LastAverage beyond the held points should fall back to Average")
	}
}

func TestIsTimeToUpdate(t *testing.T) {
	t.Log("Give a Buffer with interval=30s and size=1")
	buffer := NewBuffer(30*time.Second, 1)

	if !buffer.IsTimeToUpdate(epoch) {
		t.Fatal("IsTimeToUpdate should be true if there is no data")
	}

	buffer.Add(epoch, 0)
	if buffer.IsTimeToUpdate(epoch.Add(10 * time.Second)) {
		t.Fatal("IsTimeToUpdate should be false if [lastUpdate + interval] > now")
	}

	if !buffer.IsTimeToUpdate(epoch.Add(30 * time.Second)) {
		t.Fatal("IsTimeToUpdate should be true if [lastUpdate + interval] <= now")
	}
}
