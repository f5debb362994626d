package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swdee/go-wagonocr/config"
	"github.com/swdee/go-wagonocr/detect"
	"github.com/swdee/go-wagonocr/store"
)

func TestDetectorParams(t *testing.T) {

	dir := t.TempDir()
	names := filepath.Join(dir, "classes.txt")
	require.NoError(t, os.WriteFile(names, []byte("wagon\ntrain\n"), 0o644))

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))

	tests := []struct {
		name     string
		file     string
		classNum int
		wantErr  bool
	}{
		{"coco default", "", 80, false},
		{"custom classes", names, 2, false},
		{"missing file", filepath.Join(dir, "missing.txt"), 0, true},
		{"empty file", empty, 0, true},
	}

	for _, tc := range tests {
		cfg := config.Default().Detect
		cfg.ClassNames = tc.file

		p, err := detectorParams(cfg)

		if tc.wantErr {
			assert.Error(t, err, tc.name)
			continue
		}

		require.NoError(t, err, tc.name)
		assert.Equal(t, tc.classNum, p.ClassNum, tc.name)
	}

	cfg := config.Default().Detect
	cfg.ClassNames = names
	p, err := detectorParams(cfg)
	require.NoError(t, err)

	assert.Equal(t, detect.Other, p.Labeler(0))
	assert.Equal(t, detect.Train, p.Labeler(1))
}

func TestListRuns(t *testing.T) {

	ctx := context.Background()
	assert.Error(t, listRuns(ctx, ""))

	path := filepath.Join(t.TempDir(), "runs.db")
	db, err := store.Open(path)
	require.NoError(t, err)
	require.NoError(t, db.SaveRun(ctx, "run-a", "frames/", nil))
	require.NoError(t, db.Close())

	assert.NoError(t, listRuns(ctx, path))
}
