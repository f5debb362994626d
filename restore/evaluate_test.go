package restore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/swdee/go-wagonocr/metrics"
)

func writeMat(t *testing.T, path string, mat gocv.Mat) {

	t.Helper()

	require.True(t, gocv.IMWrite(path, mat))
}

func TestEvaluate(t *testing.T) {

	a, err := NewAgent(Config{ModelConfig: tinyConfig(), CheckpointPath: identityCheckpoint(t)})
	require.NoError(t, err)

	dir := t.TempDir()

	img := gradientMat(24, 16)
	defer img.Close()

	small := gradientMat(12, 8)
	defer small.Close()

	writeMat(t, filepath.Join(dir, "a.png"), img)
	writeMat(t, filepath.Join(dir, "b.png"), small)

	pairs := []EvalPair{
		{Name: "same", Blur: filepath.Join(dir, "a.png"), Sharp: filepath.Join(dir, "a.png")},
		{Name: "mismatch", Blur: filepath.Join(dir, "a.png"), Sharp: filepath.Join(dir, "b.png")},
		{Name: "missing", Blur: filepath.Join(dir, "nope.png"), Sharp: filepath.Join(dir, "a.png")},
	}

	rep, err := a.Evaluate(context.Background(), pairs)
	require.NoError(t, err)

	require.Len(t, rep.Results, 1)
	assert.Equal(t, 2, rep.Skipped)
	assert.Equal(t, "same", rep.Results[0].Name)
	assert.Equal(t, metrics.MaxPSNR, rep.Results[0].PSNR)
	assert.Equal(t, metrics.MaxPSNR, rep.Results[0].InputPSNR)
	assert.InDelta(t, 1.0, rep.Results[0].SSIM, 1e-6)
	assert.Equal(t, 1, rep.PSNR.Count)
	assert.Equal(t, 1, rep.LatencyMs.Count)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = a.Evaluate(ctx, pairs)
	assert.ErrorIs(t, err, context.Canceled)
}
