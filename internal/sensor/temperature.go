package sensor

import (
	"fmt"
	"math"
	"strconv"
	"sync/atomic"
)

// Temperature is a bounded integer shared between the UI and the publisher.
type Temperature struct {
	min, max int
	v        atomic.Int64
}

func NewTemperature(min, max, initial int) (*Temperature, error) {
	if min > max {
		return nil, fmt.Errorf("temperature min %d is above max %d", min, max)
	}
	if initial < min || initial > max {
		return nil, fmt.Errorf("initial temperature %d is outside [%d, %d]", initial, min, max)
	}
	t := &Temperature{min: min, max: max}
	t.v.Store(int64(initial))
	return t, nil
}

// Set clamps v to the bounds and returns the stored value.
func (t *Temperature) Set(v int) int {
	if v < t.min {
		v = t.min
	} else if v > t.max {
		v = t.max
	}
	t.v.Store(int64(v))
	return v
}

func (t *Temperature) Load() int {
	return int(t.v.Load())
}

func (t *Temperature) Min() int { return t.min }
func (t *Temperature) Max() int { return t.max }

// Slider feeds widget values into a Temperature, committing only when the
// user is not in the middle of a drag. Call it from the UI thread only.
type Slider struct {
	temp     *Temperature
	dragging bool
}

func NewSlider(temp *Temperature) *Slider {
	return &Slider{temp: temp}
}

// Press marks the start of a drag.
func (s *Slider) Press() {
	s.dragging = true
}

// Change handles a value-changed event. It reports whether the value was
// committed.
func (s *Slider) Change(v float64) bool {
	if s.dragging {
		return false
	}
	s.temp.Set(round(v))
	return true
}

// Release ends the drag and commits the final value.
func (s *Slider) Release(v float64) int {
	s.dragging = false
	return s.temp.Set(round(v))
}

func (s *Slider) Dragging() bool {
	return s.dragging
}

func round(v float64) int {
	return int(math.Round(v))
}

// Mark is a slider tick. Major ticks carry a label.
type Mark struct {
	Value int
	Label string
}

// Marks returns a tick for every minor step from Min, labelling every major
// step counted from Min.
func (t *Temperature) Marks(minor, major int) []Mark {
	if minor <= 0 {
		minor = 1
	}
	var marks []Mark
	for v := t.min; v <= t.max; v += minor {
		m := Mark{Value: v}
		if major > 0 && (v-t.min)%major == 0 {
			m.Label = strconv.Itoa(v)
		}
		marks = append(marks, m)
	}
	return marks
}
