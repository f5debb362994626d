package wagonocr

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/swdee/go-wagonocr/detect"
	"github.com/swdee/go-wagonocr/nafnet"
	"github.com/swdee/go-wagonocr/ocr"
	"github.com/swdee/go-wagonocr/restore"
	"github.com/swdee/go-wagonocr/tracker"
)

// fixedDetector returns the same detections for every frame
type fixedDetector struct {
	dets  []detect.Detection
	err   error
	mu    sync.Mutex
	calls int
}

func (f *fixedDetector) Detect(img gocv.Mat, conf float32) ([]detect.Detection, error) {

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++

	return append([]detect.Detection(nil), f.dets...), f.err
}

// fixedText reads the same text from every image
type fixedText struct {
	text string
	conf float64
	err  error
}

func (f *fixedText) Read(img gocv.Mat, allow string) ([]ocr.TextResult, error) {

	if f.err != nil {
		return nil, f.err
	}

	return []ocr.TextResult{{Text: f.text, Confidence: f.conf}}, nil
}

func grayFrame() gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(128, 128, 128, 0), 64, 64, gocv.MatTypeCV8UC3)
}

func readerPool(t *testing.T, tr ocr.TextReader, restorer ocr.Restorer, size int) *Pool[RegionReader] {

	t.Helper()

	logger := zerolog.Nop()

	pool, err := NewPool(size, func(i int) (RegionReader, error) {
		return ocr.NewCropReader(tr, restorer, ocr.DefaultReaderConfig(), &logger), nil
	}, nil)

	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return pool
}

func wagonDetector() *fixedDetector {
	return &fixedDetector{dets: []detect.Detection{{
		ID:         1,
		Label:      detect.Train,
		Box:        detect.BBox{X1: 8, Y1: 12, X2: 56, Y2: 44},
		Confidence: 0.9,
	}}}
}

func TestPipelineEndToEnd(t *testing.T) {

	logger := zerolog.Nop()

	agent, err := restore.NewAgent(restore.Config{
		ModelConfig: &nafnet.Config{
			InChannels:   3,
			Width:        4,
			EncBlocks:    []int{1, 1},
			MiddleBlocks: 1,
			DecBlocks:    []int{1, 1},
			Expansion:    2,
			NormEps:      1e-5,
		},
		Logger: &logger,
	})
	require.NoError(t, err)
	assert.False(t, agent.CheckpointLoaded())

	p := NewPipeline(wagonDetector(),
		readerPool(t, &fixedText{text: "AB123456", conf: 0.8}, agent, 1),
		tracker.New(tracker.DefaultConfig()),
		PipelineOptions{Logger: &logger})

	frame := grayFrame()
	defer frame.Close()

	for seq := 0; seq < 3; seq++ {
		res, err := p.ProcessFrame(context.Background(), "frame", seq, frame)
		require.NoError(t, err)
		require.Len(t, res.Readings, 1)
		assert.Equal(t, "AB123456", res.Readings[0].Text)
		assert.Equal(t, ocr.VariantRestored, res.Readings[0].Variant)
		require.Len(t, res.Tracks, 1)
	}

	results := p.Results()
	require.Len(t, results, 1)

	assert.Equal(t, 0, results[0].TrackID)
	assert.Equal(t, "AB123456", results[0].BestText)
	assert.Equal(t, 3, results[0].NumSightings)
	assert.Equal(t, 0.8, results[0].Confidence)
	assert.Equal(t, "frame", results[0].LastSeenIdentifier)
}

func TestPipelineAdapterFailures(t *testing.T) {

	logger := zerolog.Nop()
	frame := grayFrame()
	defer frame.Close()

	det := wagonDetector()
	det.err = errors.New("detector down")

	p := NewPipeline(det, readerPool(t, &fixedText{text: "AB123456", conf: 0.8}, nil, 1),
		tracker.New(tracker.DefaultConfig()), PipelineOptions{Logger: &logger})

	res, err := p.ProcessFrame(context.Background(), "f_1", -1, frame)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Seq)
	assert.Empty(t, res.Readings)
	assert.Empty(t, p.Results())

	// a failing reader leaves the detection without text and off the tracker
	p = NewPipeline(wagonDetector(), readerPool(t, &fixedText{err: errors.New("ocr down")}, nil, 1),
		tracker.New(tracker.DefaultConfig()), PipelineOptions{Logger: &logger})

	res, err = p.ProcessFrame(context.Background(), "f_2", 2, frame)
	require.NoError(t, err)
	require.Len(t, res.Readings, 1)
	assert.Empty(t, res.Readings[0].Text)
	assert.Empty(t, res.Tracks)
	assert.Empty(t, p.Results())

	empty := gocv.NewMat()
	defer empty.Close()

	_, err = p.ProcessFrame(context.Background(), "f_3", 3, empty)
	assert.ErrorIs(t, err, ErrEmptyFrame)
}

func TestPipelineFiltersLabels(t *testing.T) {

	logger := zerolog.Nop()
	frame := grayFrame()
	defer frame.Close()

	det := wagonDetector()
	det.dets[0].Label = detect.Bus

	p := NewPipeline(det, readerPool(t, &fixedText{text: "AB123456", conf: 0.8}, nil, 1),
		tracker.New(tracker.DefaultConfig()), PipelineOptions{Logger: &logger})

	res, err := p.ProcessFrame(context.Background(), "f_1", 1, frame)
	require.NoError(t, err)
	assert.Empty(t, res.Readings)
}

func TestPipelineProcessFiles(t *testing.T) {

	dir := t.TempDir()
	frame := grayFrame()
	defer frame.Close()

	var paths []string

	for _, name := range []string{"frame_10.png", "frame_2.png", "frame_1.png"} {
		path := filepath.Join(dir, name)
		require.True(t, gocv.IMWrite(path, frame))
		paths = append(paths, path)
	}

	corrupt := filepath.Join(dir, "frame_5.png")
	require.NoError(t, os.WriteFile(corrupt, []byte("not an image"), 0o644))
	paths = append(paths, corrupt)

	logger := zerolog.Nop()

	var order []string
	var seqs []int

	p := NewPipeline(wagonDetector(), readerPool(t, &fixedText{text: "CD987654", conf: 0.6}, nil, 2),
		tracker.New(tracker.DefaultConfig()), PipelineOptions{
			Logger: &logger,
			OnFrame: func(res FrameResult, frame gocv.Mat) {
				order = append(order, res.Identifier)
				seqs = append(seqs, res.Seq)
				assert.False(t, frame.Empty())
			},
		})

	report, err := p.ProcessFiles(context.Background(), paths)
	require.NoError(t, err)

	assert.Equal(t, FilesReport{Processed: 3, Skipped: 1}, report)
	assert.Equal(t, []string{"frame_1.png", "frame_2.png", "frame_10.png"}, order)
	assert.Equal(t, []int{1, 2, 10}, seqs)

	// matching runs before aging so frame 10 still extends the track
	results := p.Results()
	require.Len(t, results, 1)
	assert.Equal(t, 3, results[0].NumSightings)
	assert.Equal(t, "CD987654", results[0].BestText)
	assert.Equal(t, "frame_10.png", results[0].LastSeenIdentifier)
}

func TestPipelineProcessFilesCancelled(t *testing.T) {

	dir := t.TempDir()
	frame := grayFrame()
	defer frame.Close()

	var paths []string

	for _, name := range []string{"a_1.png", "a_2.png", "a_3.png"} {
		path := filepath.Join(dir, name)
		require.True(t, gocv.IMWrite(path, frame))
		paths = append(paths, path)
	}

	logger := zerolog.Nop()

	p := NewPipeline(wagonDetector(), readerPool(t, &fixedText{text: "CD987654", conf: 0.6}, nil, 1),
		tracker.New(tracker.DefaultConfig()), PipelineOptions{Logger: &logger})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.ProcessFiles(ctx, paths)
	assert.ErrorIs(t, err, context.Canceled)
}
