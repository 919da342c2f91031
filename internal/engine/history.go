package engine

import "codeberg.org/mutker/motordash/internal/motor"

// History is a fixed-capacity FIFO of power samples in chronological order.
type History struct {
	points   []motor.HistoryPoint
	capacity int
}

func NewHistory(capacity int) *History {
	return &History{
		points:   make([]motor.HistoryPoint, 0, capacity),
		capacity: capacity,
	}
}

// Append adds p, evicting the oldest sample once the capacity is reached.
func (h *History) Append(p motor.HistoryPoint) {
	if h.capacity <= 0 {
		return
	}

	if len(h.points) < h.capacity {
		h.points = append(h.points, p)
		return
	}

	copy(h.points, h.points[1:])
	h.points[len(h.points)-1] = p
}

// Points returns a copy of the samples, oldest first.
func (h *History) Points() []motor.HistoryPoint {
	points := make([]motor.HistoryPoint, len(h.points))
	copy(points, h.points)

	return points
}

func (h *History) Len() int {
	return len(h.points)
}
