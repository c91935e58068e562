// Package rolling provides a fixed-window moving average for noisy scalar streams.
package rolling

import "gonum.org/v1/gonum/floats"

// Average keeps the last N values in a circular buffer and reports their mean.
// It is not safe for concurrent use; callers own it for one session.
type Average struct {
	values []float64
	next   int
	full   bool
}

// New creates an Average over a window of n values. A window smaller than one is
// treated as one.
func New(n int) *Average {
	if n < 1 {
		n = 1
	}
	return &Average{values: make([]float64, n)}
}

// Add pushes x, evicting the oldest value once the window is full, and returns the
// mean of the values currently held.
func (a *Average) Add(x float64) float64 {
	a.values[a.next] = x
	a.next++
	if a.next == len(a.values) {
		a.next = 0
		a.full = true
	}
	return a.Mean()
}

// Mean returns the mean of the held values, or 0 when empty.
func (a *Average) Mean() float64 {
	n := a.Len()
	if n == 0 {
		return 0
	}
	return floats.Sum(a.values[:n]) / float64(n)
}

// Len reports how many values are held.
func (a *Average) Len() int {
	if a.full {
		return len(a.values)
	}
	return a.next
}

// Cap reports the window size.
func (a *Average) Cap() int {
	return len(a.values)
}

// Reset empties the window.
func (a *Average) Reset() {
	a.next = 0
	a.full = false
}
