package wagonocr

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"github.com/swdee/go-wagonocr/detect"
	"github.com/swdee/go-wagonocr/ocr"
	"github.com/swdee/go-wagonocr/tracker"
)

// ErrEmptyFrame is returned for a frame with no pixels
var ErrEmptyFrame = errors.New("empty frame")

// DefaultDetectConfidence is the minimum detector score of a wagon
const DefaultDetectConfidence = 0.25

// RegionReader reads the text inside a box of a frame, ocr.CropReader
// satisfies it
type RegionReader interface {
	ReadRegion(frame gocv.Mat, box detect.BBox) (ocr.Reading, error)
}

// Reading is the text read from one detection
type Reading struct {
	Detection  detect.Detection
	Text       string
	Confidence float64
	// Variant names the preprocessing the text came from
	Variant string
}

// FrameResult is the outcome of one frame
type FrameResult struct {
	Identifier string
	Seq        int
	// Readings holds every detection with the text read from it, which is
	// empty when nothing qualified
	Readings []Reading
	// Tracks holds the track of each reading with text, in reading order
	Tracks []*tracker.Track
}

// PipelineOptions configures a Pipeline
type PipelineOptions struct {
	// Confidence is passed to the detector
	Confidence float32
	// Labels restricts detections to these classes, empty uses
	// detect.DefaultWagonLabels
	Labels []detect.Label
	// SequenceFromOrder numbers files by their sorted position instead of
	// the digits in their names
	SequenceFromOrder bool
	// OnFrame is called with each frame in sequence order once it has been
	// tracked, before the frame is released
	OnFrame func(res FrameResult, frame gocv.Mat)
	Logger  *zerolog.Logger
}

// Pipeline detects wagons, reads their numbers and tracks them across frames.
// Frames may be analysed concurrently but tracking is applied in sequence
// order from a single goroutine.
type Pipeline struct {
	detector detect.Detector
	readers  *Pool[RegionReader]
	tracker  *tracker.Tracker
	opts     PipelineOptions
	log      zerolog.Logger
}

// NewPipeline returns a pipeline.  The pool size sets how many frames are
// analysed at once.
func NewPipeline(det detect.Detector, readers *Pool[RegionReader], tr *tracker.Tracker,
	opts PipelineOptions) *Pipeline {

	logger := log.Logger

	if opts.Logger != nil {
		logger = *opts.Logger
	}

	if opts.Confidence <= 0 {
		opts.Confidence = DefaultDetectConfidence
	}

	return &Pipeline{
		detector: detect.NewVehicleFilter(det, opts.Labels...),
		readers:  readers,
		tracker:  tr,
		opts:     opts,
		log:      logger,
	}
}

// Tracker returns the tracker fed by the pipeline
func (p *Pipeline) Tracker() *tracker.Tracker {
	return p.tracker
}

// analyze detects wagons in frame and reads each one.  Detector and reader
// failures are logged and yield no detections or no text.
func (p *Pipeline) analyze(ctx context.Context, id string, frame gocv.Mat) ([]Reading, error) {

	if frame.Empty() {
		return nil, ErrEmptyFrame
	}

	dets, err := p.detector.Detect(frame, p.opts.Confidence)

	if err != nil {
		p.log.Warn().Err(err).Str("frame", id).Msg("Detection failed")
		return nil, nil
	}

	if len(dets) == 0 {
		return nil, nil
	}

	reader, err := p.readers.Get(ctx)

	if err != nil {
		return nil, err
	}

	defer p.readers.Return(reader)

	readings := make([]Reading, 0, len(dets))

	for _, det := range dets {
		r := Reading{Detection: det}

		res, err := reader.ReadRegion(frame, det.Box)

		if err != nil {
			p.log.Warn().Err(err).Str("frame", id).Int64("detection", det.ID).
				Msg("Text reading failed")
		} else {
			r.Text = res.Text
			r.Confidence = res.Confidence
			r.Variant = res.Variant
		}

		readings = append(readings, r)
	}

	return readings, nil
}

// track feeds the readings with text to the tracker
func (p *Pipeline) track(seq int, id string, readings []Reading) FrameResult {

	obs := make([]tracker.Observation, 0, len(readings))

	for _, r := range readings {
		if r.Text == "" {
			continue
		}

		obs = append(obs, tracker.NewObservation(r.Detection, r.Text, r.Confidence))
	}

	tracks := p.tracker.UpdateWithIndex(seq, id, obs)

	for i, t := range tracks {
		p.log.Debug().Str("frame", id).Int("track", t.ID).Str("text", obs[i].Text).
			Str("best", t.BestText()).Int("sightings", t.NumSightings()).Msg("Tracked")
	}

	return FrameResult{
		Identifier: id,
		Seq:        seq,
		Readings:   readings,
		Tracks:     tracks,
	}
}

// ProcessFrame analyses and tracks one frame.  seq is the frame sequence
// number, a negative value derives it from the digits in id.
func (p *Pipeline) ProcessFrame(ctx context.Context, id string, seq int, frame gocv.Mat) (FrameResult, error) {

	if seq < 0 {
		seq = tracker.FrameIndex(id)
	}

	readings, err := p.analyze(ctx, id, frame)

	if err != nil {
		return FrameResult{}, fmt.Errorf("error processing frame %s: %w", id, err)
	}

	res := p.track(seq, id, readings)

	if p.opts.OnFrame != nil {
		p.opts.OnFrame(res, frame)
	}

	return res, nil
}

// FilesReport counts the outcome of ProcessFiles
type FilesReport struct {
	Processed int
	Skipped   int
}

// analyzed is a frame that has been analysed and waits to be tracked
type analyzed struct {
	frame    gocv.Mat
	hasFrame bool
	readings []Reading
	err      error
}

func (a analyzed) close() {
	if a.hasFrame {
		a.frame.Close()
	}
}

// ProcessFiles processes image files in natural name order.  Up to the
// reader pool size of frames are analysed concurrently while tracking
// follows the sorted order.  Unreadable files are logged and skipped.
func (p *Pipeline) ProcessFiles(ctx context.Context, paths []string) (FilesReport, error) {

	sorted := append([]string(nil), paths...)
	tracker.NaturalSort(sorted)

	var report FilesReport

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make([]chan analyzed, len(sorted))

	for i := range done {
		done[i] = make(chan analyzed, 1)
	}

	sem := make(chan struct{}, p.readers.Size())
	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()

		for i, path := range sorted {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				done[i] <- analyzed{err: ctx.Err()}
				continue
			}

			wg.Add(1)

			go func(i int, path string) {
				defer wg.Done()
				defer func() { <-sem }()

				frame := gocv.IMRead(path, gocv.IMReadColor)
				readings, err := p.analyze(ctx, filepath.Base(path), frame)

				done[i] <- analyzed{frame: frame, hasFrame: true, readings: readings, err: err}
			}(i, path)
		}
	}()

	for i, path := range sorted {
		a := <-done[i]
		id := filepath.Base(path)

		if ctxErr := ctx.Err(); ctxErr != nil {
			a.close()

			// drain the frames still in flight
			for j := i + 1; j < len(sorted); j++ {
				rest := <-done[j]
				rest.close()
			}

			wg.Wait()

			return report, ctxErr
		}

		if a.err != nil {
			a.close()
			p.log.Warn().Err(a.err).Str("path", path).Msg("Skipping unreadable frame")
			report.Skipped++
			continue
		}

		seq := tracker.FrameIndex(id)

		if p.opts.SequenceFromOrder {
			seq = i
		}

		res := p.track(seq, id, a.readings)

		if p.opts.OnFrame != nil {
			p.opts.OnFrame(res, a.frame)
		}

		a.close()
		report.Processed++
	}

	wg.Wait()

	return report, nil
}

// Results reports every track, finished ones first
func (p *Pipeline) Results() []tracker.Result {
	return p.tracker.Results()
}
