package tracker

import "github.com/swdee/go-wagonocr/detect"

// TrackState represents the lifecycle state of a track
type TrackState int

const (
	// Active tracks take part in matching
	Active TrackState = 0
	// Finished tracks have aged out and never change again
	Finished TrackState = 1
)

// Sighting is one text reading recorded against a track
type Sighting struct {
	Text       string
	Confidence float64
}

// Track is one physical wagon followed across frames
type Track struct {
	// ID is assigned in creation order starting at zero
	ID    int
	Box   detect.BBox
	Label detect.Label
	// LastSeen is the sequence number of the most recent match
	LastSeen int
	// LastIdentifier is the frame identifier of the most recent match
	LastIdentifier string
	// DetectionID is the id of the most recently matched detection
	DetectionID int64
	history     []Sighting
	best        string
	state       TrackState
}

// newTrack starts a track from an unmatched observation
func newTrack(id, seq int, identifier string, obs Observation) *Track {

	t := &Track{
		ID:    id,
		state: Active,
	}

	t.update(seq, identifier, obs)

	return t
}

// update records a matched observation
func (t *Track) update(seq int, identifier string, obs Observation) {

	t.Box = obs.Box
	t.Label = obs.Label
	t.LastSeen = seq
	t.LastIdentifier = identifier
	t.DetectionID = obs.DetectionID

	if obs.Text == "" {
		return
	}

	t.history = append(t.history, Sighting{Text: obs.Text, Confidence: obs.Confidence})
	t.best = vote(t.history)
}

// vote returns the text with the highest summed confidence.  Ties go to the
// text seen first.
func vote(history []Sighting) string {

	sums := make(map[string]float64, len(history))
	var order []string

	for _, s := range history {
		if _, ok := sums[s.Text]; !ok {
			order = append(order, s.Text)
		}

		sums[s.Text] += s.Confidence
	}

	best := ""
	bestSum := 0.0

	for i, text := range order {
		if i == 0 || sums[text] > bestSum {
			best = text
			bestSum = sums[text]
		}
	}

	return best
}

// BestText returns the consensus reading, empty when nothing was read
func (t *Track) BestText() string {
	return t.best
}

// History returns a copy of the recorded readings in arrival order
func (t *Track) History() []Sighting {
	return append([]Sighting(nil), t.history...)
}

// NumSightings returns the number of recorded readings
func (t *Track) NumSightings() int {
	return len(t.history)
}

// Confidence returns the highest confidence among readings equal to the
// consensus text
func (t *Track) Confidence() float64 {

	conf := 0.0

	for _, s := range t.history {
		if s.Text == t.best && s.Confidence > conf {
			conf = s.Confidence
		}
	}

	return conf
}

// State returns the track lifecycle state
func (t *Track) State() TrackState {
	return t.state
}

// Result is the report record of one track
type Result struct {
	TrackID            int     `json:"track_id"`
	BestText           string  `json:"best_text"`
	NumSightings       int     `json:"num_sightings"`
	Confidence         float64 `json:"confidence"`
	LastSeenIdentifier string  `json:"last_seen_identifier"`
}

// Result summarises the track
func (t *Track) Result() Result {
	return Result{
		TrackID:            t.ID,
		BestText:           t.best,
		NumSightings:       len(t.history),
		Confidence:         t.Confidence(),
		LastSeenIdentifier: t.LastIdentifier,
	}
}
