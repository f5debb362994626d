package tracker

import "sync"

// Point is the pixel centre of a track box
type Point struct {
	X, Y int
}

// Trail records the recent box centres of each track for drawing its path.
// It is safe for concurrent use.
type Trail struct {
	// size is the number of most recent points kept per track
	size  int
	paths map[int][]Point
	mu    sync.Mutex
}

// NewTrail returns a trail keeping the last size points of each track
func NewTrail(size int) *Trail {
	return &Trail{
		size:  max(size, 1),
		paths: make(map[int][]Point),
	}
}

// Reset forgets every track
func (t *Trail) Reset() {

	t.mu.Lock()
	defer t.mu.Unlock()

	t.paths = make(map[int][]Point)
}

// Add appends the current box centre of track
func (t *Trail) Add(track *Track) {

	x, y := track.Box.Center()

	t.mu.Lock()
	defer t.mu.Unlock()

	pts := append(t.paths[track.ID], Point{X: int(x), Y: int(y)})

	if len(pts) > t.size {
		pts = pts[len(pts)-t.size:]
	}

	t.paths[track.ID] = pts
}

// Points returns a copy of the recorded centres of a track, oldest first
func (t *Trail) Points(id int) []Point {

	t.mu.Lock()
	defer t.mu.Unlock()

	if pts, ok := t.paths[id]; ok {
		return append([]Point(nil), pts...)
	}

	return nil
}

// Prune drops the paths of tracks that are no longer active
func (t *Trail) Prune(active []*Track) {

	keep := make(map[int]bool, len(active))

	for _, tr := range active {
		keep[tr.ID] = true
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for id := range t.paths {
		if !keep[id] {
			delete(t.paths, id)
		}
	}
}
