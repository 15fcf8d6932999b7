package harness

import "time"

// Timing holds the three instants of a job. Intervals are reported as measured,
// negative values included, since producer and worker clocks may disagree.
type Timing struct {
	Created   time.Time
	Delivered time.Time
	Processed time.Time
}

func (t Timing) DeliveryTime() float64 {
	return t.Delivered.Sub(t.Created).Seconds()
}

func (t Timing) ProcessingTime() float64 {
	return t.Processed.Sub(t.Delivered).Seconds()
}
