package telemetry

// Timeline is a fixed-size ring of points; once full, each Add overwrites
// the oldest entry. It is not safe for concurrent use.
type Timeline struct {
	points []Point
	next   int64
	max    int64
}

func NewTimeline(rollover int) *Timeline {
	if rollover < 1 {
		rollover = 1
	}
	return &Timeline{
		points: make([]Point, rollover),
		max:    int64(rollover),
	}
}

func (t *Timeline) Add(p Point) {
	t.points[t.next%t.max] = p
	t.next++
}

func (t *Timeline) Len() int {
	if t.next < t.max {
		return int(t.next)
	}
	return int(t.max)
}

func (t *Timeline) Cap() int {
	return int(t.max)
}

// Last returns up to n of the newest points, oldest first.
func (t *Timeline) Last(n int) []Point {
	if n > t.Len() {
		n = t.Len()
	}
	if n <= 0 {
		return []Point{}
	}

	out := make([]Point, n)
	from := t.next - int64(n)
	for i := from; i < t.next; i++ {
		out[i-from] = t.points[i%t.max]
	}
	return out
}

func (t *Timeline) All() []Point {
	return t.Last(t.Len())
}
