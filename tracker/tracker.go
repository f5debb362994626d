// Package tracker follows wagons across a sequence of frames by greedy IoU
// matching and keeps a confidence weighted consensus of the text read from
// each one.
package tracker

import "fmt"

// Default matching parameters
const (
	DefaultIoUThreshold = 0.3
	DefaultMaxAge       = 5
)

// Config holds the matching parameters
type Config struct {
	// IoUThreshold is the overlap a detection must exceed to match a track
	IoUThreshold float64
	// MaxAge is the number of frames a track may go unmatched before it is
	// finished
	MaxAge int
}

// DefaultConfig returns the default matching parameters
func DefaultConfig() Config {
	return Config{
		IoUThreshold: DefaultIoUThreshold,
		MaxAge:       DefaultMaxAge,
	}
}

// Validate checks the parameters are usable
func (c Config) Validate() error {

	if c.IoUThreshold < 0 || c.IoUThreshold >= 1 {
		return fmt.Errorf("iou threshold %v must be in [0, 1)", c.IoUThreshold)
	}

	if c.MaxAge < 0 {
		return fmt.Errorf("max age %d must not be negative", c.MaxAge)
	}

	return nil
}

// Tracker associates observations into tracks.  It must be driven by a
// single sequential stream of frames and is not safe for concurrent use.
type Tracker struct {
	cfg      Config
	nextID   int
	active   []*Track
	finished []*Track
}

// New returns a tracker with the given parameters
func New(cfg Config) *Tracker {
	return &Tracker{cfg: cfg}
}

// Config returns the matching parameters
func (tr *Tracker) Config() Config {
	return tr.cfg
}

// Reset clears all tracks and restarts id assignment
func (tr *Tracker) Reset() {
	tr.nextID = 0
	tr.active = nil
	tr.finished = nil
}

// Update processes the observations of one frame, deriving the sequence
// number from the first run of digits in identifier
func (tr *Tracker) Update(identifier string, obs []Observation) []*Track {
	return tr.UpdateWithIndex(FrameIndex(identifier), identifier, obs)
}

// UpdateWithIndex processes the observations of frame seq.  Each observation
// in turn claims the unclaimed active track it overlaps most, provided the
// IoU exceeds the threshold, otherwise it starts a new track.  Active tracks
// last seen more than MaxAge frames ago are then finished.  The returned
// slice holds the track each observation was assigned to.
func (tr *Tracker) UpdateWithIndex(seq int, identifier string, obs []Observation) []*Track {

	assigned := make([]*Track, len(obs))
	claimed := make(map[*Track]bool, len(tr.active))

	// tracks created this frame are not matched against
	candidates := tr.active

	for i, o := range obs {
		var best *Track
		bestIoU := 0.0

		for _, t := range candidates {
			if claimed[t] {
				continue
			}

			iou := o.Box.IoU(t.Box)

			if iou > bestIoU {
				bestIoU = iou
				best = t
			}
		}

		if best != nil && bestIoU > tr.cfg.IoUThreshold {
			claimed[best] = true
			best.update(seq, identifier, o)
			assigned[i] = best
			continue
		}

		t := newTrack(tr.nextID, seq, identifier, o)
		tr.nextID++
		tr.active = append(tr.active, t)
		assigned[i] = t
	}

	tr.expire(seq)

	return assigned
}

// expire finishes active tracks whose age exceeds MaxAge.  A frame older
// than the last sighting counts as age zero.
func (tr *Tracker) expire(seq int) {

	still := tr.active[:0]

	for _, t := range tr.active {
		age := seq - t.LastSeen

		if age < 0 {
			age = 0
		}

		if age > tr.cfg.MaxAge {
			t.state = Finished
			tr.finished = append(tr.finished, t)
			continue
		}

		still = append(still, t)
	}

	for i := len(still); i < len(tr.active); i++ {
		tr.active[i] = nil
	}

	tr.active = still
}

// Finalize finishes every active track, used once the stream ends
func (tr *Tracker) Finalize() {

	for _, t := range tr.active {
		t.state = Finished
		tr.finished = append(tr.finished, t)
	}

	tr.active = nil
}

// Active returns the active tracks in creation order
func (tr *Tracker) Active() []*Track {
	return append([]*Track(nil), tr.active...)
}

// Finished returns the finished tracks in the order they finished
func (tr *Tracker) Finished() []*Track {
	return append([]*Track(nil), tr.finished...)
}

// Results reports finished tracks followed by active ones
func (tr *Tracker) Results() []Result {

	res := make([]Result, 0, len(tr.finished)+len(tr.active))

	for _, t := range tr.finished {
		res = append(res, t.Result())
	}

	for _, t := range tr.active {
		res = append(res, t.Result())
	}

	return res
}
