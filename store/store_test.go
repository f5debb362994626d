package store

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swdee/go-wagonocr/tracker"
)

var testResults = []tracker.Result{
	{TrackID: 1, BestText: "CD5678", NumSightings: 2, Confidence: 0.4, LastSeenIdentifier: "f7.jpg"},
	{TrackID: 0, BestText: "AB1234", NumSightings: 3, Confidence: 0.875, LastSeenIdentifier: "f3.jpg"},
}

func TestSQLiteRoundTrip(t *testing.T) {

	ctx := context.Background()

	s, err := Open(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SaveRun(ctx, "run-a", "frames/", testResults))

	got, err := s.Results(ctx, "run-a")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, testResults[1], got[0])
	assert.Equal(t, testResults[0], got[1])

	// saving again replaces the earlier results
	require.NoError(t, s.SaveRun(ctx, "run-a", "frames/", testResults[:1]))

	got, err = s.Results(ctx, "run-a")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	require.NoError(t, s.SaveRun(ctx, "run-b", "other/", nil))

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	counts := map[string]int{}

	for _, r := range runs {
		counts[r.ID] = r.NumTracks
	}

	assert.Equal(t, map[string]int{"run-a": 1, "run-b": 0}, counts)

	got, err = s.Results(ctx, "run-b")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLiteMissingRun(t *testing.T) {

	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Results(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestWriteCSV(t *testing.T) {

	var buf bytes.Buffer

	require.NoError(t, WriteCSV(&buf, testResults))

	expect := "track_id,best_text,num_sightings,confidence,last_seen_identifier\n" +
		"1,CD5678,2,0.40,f7.jpg\n" +
		"0,AB1234,3,0.88,f3.jpg\n"

	assert.Equal(t, expect, buf.String())
}
