package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swdee/go-wagonocr/detect"
)

func obs(x1, y1, x2, y2 float64, text string, conf float64) Observation {
	return Observation{
		Box:        detect.BBox{X1: x1, Y1: y1, X2: x2, Y2: y2},
		Label:      detect.Train,
		Text:       text,
		Confidence: conf,
	}
}

func TestTrackerMatching(t *testing.T) {

	tr := New(DefaultConfig())

	tracks := tr.UpdateWithIndex(1, "frame_1.jpg", []Observation{obs(0, 0, 10, 10, "", 0)})
	require.Len(t, tracks, 1)
	assert.Equal(t, 0, tracks[0].ID)

	// IoU 81/119 with the existing track
	tracks = tr.UpdateWithIndex(2, "frame_2.jpg", []Observation{obs(1, 1, 11, 11, "", 0)})
	assert.Equal(t, 0, tracks[0].ID)
	assert.Equal(t, detect.BBox{X1: 1, Y1: 1, X2: 11, Y2: 11}, tracks[0].Box)
	assert.Equal(t, 2, tracks[0].LastSeen)
	assert.Equal(t, "frame_2.jpg", tracks[0].LastIdentifier)

	// no overlap starts a new track
	tracks = tr.UpdateWithIndex(3, "frame_3.jpg", []Observation{obs(100, 100, 110, 110, "", 0)})
	assert.Equal(t, 1, tracks[0].ID)

	assert.Len(t, tr.Active(), 2)
	assert.Empty(t, tr.Finished())
}

func TestTrackerBelowThreshold(t *testing.T) {

	tr := New(DefaultConfig())

	tr.UpdateWithIndex(0, "a", []Observation{obs(0, 0, 10, 10, "", 0)})

	// IoU 25/175 is under 0.3
	tracks := tr.UpdateWithIndex(1, "b", []Observation{obs(5, 5, 15, 15, "", 0)})
	assert.Equal(t, 1, tracks[0].ID)
	assert.Len(t, tr.Active(), 2)
}

func TestTrackerOneDetectionPerTrack(t *testing.T) {

	tr := New(DefaultConfig())

	tr.UpdateWithIndex(0, "a", []Observation{obs(0, 0, 10, 10, "", 0)})

	// both overlap track 0, the first claims it and the second starts a track
	tracks := tr.UpdateWithIndex(1, "b", []Observation{
		obs(1, 1, 11, 11, "", 0),
		obs(0, 0, 10, 10, "", 0),
	})

	assert.Equal(t, 0, tracks[0].ID)
	assert.Equal(t, 1, tracks[1].ID)
}

func TestTrackerPicksHighestIoU(t *testing.T) {

	tr := New(DefaultConfig())

	tr.UpdateWithIndex(0, "a", []Observation{
		obs(0, 0, 10, 10, "", 0),
		obs(2, 0, 12, 10, "", 0),
	})

	tracks := tr.UpdateWithIndex(1, "b", []Observation{obs(2, 0, 12, 10, "", 0)})
	assert.Equal(t, 1, tracks[0].ID)
}

func TestTrackerAging(t *testing.T) {

	tests := []struct {
		name     string
		seq      int
		finished bool
	}{
		{"age equal to max", 10, false},
		{"age over max", 11, true},
		{"earlier frame", 2, false},
	}

	for _, tc := range tests {
		tr := New(DefaultConfig())

		tr.UpdateWithIndex(5, "frame_5", []Observation{obs(0, 0, 10, 10, "AB1234", 0.9)})
		tr.UpdateWithIndex(tc.seq, "other", []Observation{obs(500, 500, 510, 510, "", 0)})

		if tc.finished {
			require.Len(t, tr.Finished(), 1, tc.name)
			assert.Equal(t, 0, tr.Finished()[0].ID, tc.name)
			assert.Equal(t, Finished, tr.Finished()[0].State(), tc.name)
			assert.Len(t, tr.Active(), 1, tc.name)
		} else {
			assert.Empty(t, tr.Finished(), tc.name)
			assert.Len(t, tr.Active(), 2, tc.name)
		}
	}
}

func TestTrackerUpdateParsesIdentifier(t *testing.T) {

	tr := New(DefaultConfig())

	tr.Update("cam2_frame_0005.jpg", []Observation{obs(0, 0, 10, 10, "", 0)})
	assert.Equal(t, 2, tr.Active()[0].LastSeen)

	tr.Update("noindex.jpg", []Observation{obs(0, 0, 10, 10, "", 0)})
	assert.Equal(t, 0, tr.Active()[0].LastSeen)
	assert.Equal(t, "noindex.jpg", tr.Active()[0].LastIdentifier)
}

func TestConsensusVoting(t *testing.T) {

	tr := New(DefaultConfig())

	tr.UpdateWithIndex(0, "f0", []Observation{obs(0, 0, 10, 10, "AB1234", 0.9)})
	tr.UpdateWithIndex(1, "f1", []Observation{obs(0, 0, 10, 10, "AB1234", 0.3)})
	tr.UpdateWithIndex(2, "f2", []Observation{obs(0, 0, 10, 10, "XY9999", 0.95)})
	tr.UpdateWithIndex(3, "f3", []Observation{obs(0, 0, 10, 10, "", 0)})

	require.Len(t, tr.Active(), 1)

	track := tr.Active()[0]
	assert.Equal(t, "AB1234", track.BestText())
	assert.Equal(t, 3, track.NumSightings())
	assert.Equal(t, 0.9, track.Confidence())
	assert.Equal(t, "f3", track.LastIdentifier)
}

func TestVoteTieKeepsFirstSeen(t *testing.T) {

	assert.Equal(t, "AAAA1111", vote([]Sighting{
		{"AAAA1111", 0.5}, {"BBBB2222", 0.5},
	}))

	assert.Equal(t, "BBBB2222", vote([]Sighting{
		{"AAAA1111", 0.5}, {"BBBB2222", 0.25}, {"BBBB2222", 0.5},
	}))

	assert.Empty(t, vote(nil))
}

func TestResultsAndFinalize(t *testing.T) {

	tr := New(DefaultConfig())

	tr.UpdateWithIndex(0, "f0", []Observation{obs(0, 0, 10, 10, "AB1234", 0.7)})
	tr.UpdateWithIndex(1, "f1", []Observation{obs(200, 200, 210, 210, "", 0)})
	tr.UpdateWithIndex(7, "f7", []Observation{obs(200, 200, 210, 210, "CD5678", 0.4)})

	res := tr.Results()
	require.Len(t, res, 2)

	// the aged out track reports first
	assert.Equal(t, Result{TrackID: 0, BestText: "AB1234", NumSightings: 1,
		Confidence: 0.7, LastSeenIdentifier: "f0"}, res[0])
	assert.Equal(t, Result{TrackID: 1, BestText: "CD5678", NumSightings: 1,
		Confidence: 0.4, LastSeenIdentifier: "f7"}, res[1])

	tr.Finalize()
	assert.Empty(t, tr.Active())
	assert.Len(t, tr.Finished(), 2)
	assert.Equal(t, res, tr.Results())

	tr.Reset()
	assert.Empty(t, tr.Results())
}

func TestConfigValidate(t *testing.T) {

	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{IoUThreshold: 1, MaxAge: 5}.Validate())
	assert.Error(t, Config{IoUThreshold: 0.3, MaxAge: -1}.Validate())
}

func TestFrameIndex(t *testing.T) {

	tests := []struct {
		id     string
		expect int
	}{
		{"frame_0042.jpg", 42},
		{"12_34.png", 12},
		{"wagon.png", 0},
		{"", 0},
		{"x99999999999999999999999999.png", 0},
		{"cam٣_frame_0042.jpg", 42},
		{"frame_１２.jpg", 0},
		{"٣٤_7.jpg", 7},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.expect, FrameIndex(tc.id), tc.id)
	}
}

func TestNaturalSort(t *testing.T) {

	ids := []string{"frame_10.jpg", "Frame_2.jpg", "frame_1.jpg", "a.jpg", "frame_02.jpg", "frame_9b.jpg"}
	NaturalSort(ids)

	assert.Equal(t, []string{"a.jpg", "frame_1.jpg", "Frame_2.jpg", "frame_02.jpg", "frame_9b.jpg", "frame_10.jpg"}, ids)
}

func TestNaturalSortAgreesWithFrameIndex(t *testing.T) {

	ids := []string{"cam٣_frame_10.jpg", "cam٣_frame_9.jpg", "cam٣_frame_100.jpg"}
	NaturalSort(ids)

	for i := 1; i < len(ids); i++ {
		assert.Less(t, FrameIndex(ids[i-1]), FrameIndex(ids[i]), ids[i])
	}
}

func TestTrail(t *testing.T) {

	trail := NewTrail(2)
	track := &Track{ID: 3, Box: detect.BBox{X1: 0, Y1: 0, X2: 10, Y2: 20}}

	trail.Add(track)
	track.Box = detect.BBox{X1: 10, Y1: 0, X2: 20, Y2: 20}
	trail.Add(track)
	track.Box = detect.BBox{X1: 20, Y1: 0, X2: 30, Y2: 20}
	trail.Add(track)

	assert.Equal(t, []Point{{15, 10}, {25, 10}}, trail.Points(3))
	assert.Nil(t, trail.Points(4))

	other := &Track{ID: 5, Box: detect.BBox{X1: 0, Y1: 0, X2: 2, Y2: 2}}
	trail.Add(other)
	trail.Prune([]*Track{other})
	assert.Nil(t, trail.Points(3))
	assert.Equal(t, []Point{{1, 1}}, trail.Points(5))

	trail.Reset()
	assert.Nil(t, trail.Points(5))
}

func TestDetectionsToObservations(t *testing.T) {

	dets := []detect.Detection{{ID: 7, Label: detect.Truck, Box: detect.BBox{X2: 4, Y2: 4}, Confidence: 0.8}}
	o := DetectionsToObservations(dets)

	require.Len(t, o, 1)
	assert.Equal(t, int64(7), o[0].DetectionID)
	assert.Equal(t, detect.Truck, o[0].Label)
	assert.Empty(t, o[0].Text)
}
