package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/akamensky/argparse"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	wagonocr "github.com/swdee/go-wagonocr"
	"github.com/swdee/go-wagonocr/config"
	"github.com/swdee/go-wagonocr/detect"
	"github.com/swdee/go-wagonocr/logging"
	"github.com/swdee/go-wagonocr/ocr"
	"github.com/swdee/go-wagonocr/render"
	"github.com/swdee/go-wagonocr/restore"
	"github.com/swdee/go-wagonocr/store"
	"github.com/swdee/go-wagonocr/tracker"
)

// trailLength is the number of box centres drawn behind each track
const trailLength = 30

// reader pairs a crop reader with the recogniser it owns so the pool can
// release it
type reader struct {
	*ocr.CropReader
	crnn *ocr.CRNN
}

// Options holds the command line choices of a run
type Options struct {
	// OutDir receives annotated frames when set
	OutDir string
	// FromOrder numbers frames by sorted position
	FromOrder bool
	// Detections draws raw detections instead of tracks
	Detections bool
}

// App holds the components of one run over a frame directory
type App struct {
	cfg      config.Config
	opts     Options
	detector *detect.YOLOv8
	restorer *restore.Agent
	readers  *wagonocr.Pool[wagonocr.RegionReader]
	pipeline *wagonocr.Pipeline
	font     render.Font
	trail    *tracker.Trail
	log      zerolog.Logger
}

// detectorParams returns the detector parameters, mapping classes by the
// configured class names file when set
func detectorParams(cfg config.DetectConfig) (detect.YOLOv8Params, error) {

	p := cfg.Params()

	if cfg.ClassNames == "" {
		return p, nil
	}

	names, err := wagonocr.LoadLabels(cfg.ClassNames)

	if err != nil {
		return p, fmt.Errorf("error loading class names: %w", err)
	}

	if len(names) == 0 {
		return p, fmt.Errorf("class names file %s is empty", cfg.ClassNames)
	}

	p.ClassNum = len(names)
	p.Labeler = detect.LabelerFromNames(names)

	return p, nil
}

// NewApp loads the models and builds the pipeline
func NewApp(cfg config.Config, opts Options) (*App, error) {

	a := &App{
		cfg:   cfg,
		opts:  opts,
		font:  render.DefaultFont(),
		trail: tracker.NewTrail(trailLength),
		log:   logging.Component("wagonocr"),
	}

	labels, err := cfg.Detect.ParseLabels()

	if err != nil {
		return nil, err
	}

	params, err := detectorParams(cfg.Detect)

	if err != nil {
		return nil, err
	}

	a.detector, err = detect.NewYOLOv8(cfg.Detect.Model, params)

	if err != nil {
		return nil, fmt.Errorf("error loading detector: %w", err)
	}

	charset, err := wagonocr.LoadCharset(cfg.OCR.Charset)

	if err != nil {
		a.Close()
		return nil, fmt.Errorf("error loading charset: %w", err)
	}

	// an untyped nil keeps the crop reader from restoring
	var restorer ocr.Restorer

	if cfg.Restore.Enabled {
		rlog := logging.Component("restore")
		a.restorer, err = restore.NewAgent(cfg.Restore.Agent(&rlog))

		if err != nil {
			a.Close()
			return nil, fmt.Errorf("error creating restoration agent: %w", err)
		}

		if !a.restorer.CheckpointLoaded() {
			a.log.Warn().Str("checkpoint", cfg.Restore.Checkpoint).
				Msg("Restoration running without trained weights")
		}

		restorer = a.restorer
	}

	crnnParams := ocr.DefaultCRNNParams(charset)

	if cfg.OCR.InputWidth > 0 {
		crnnParams.InputWidth = cfg.OCR.InputWidth
	}

	if cfg.OCR.InputHeight > 0 {
		crnnParams.InputHeight = cfg.OCR.InputHeight
	}

	olog := logging.Component("ocr")

	a.readers, err = wagonocr.NewPool(cfg.Pipeline.Workers,
		func(int) (wagonocr.RegionReader, error) {
			crnn, err := ocr.NewCRNN(cfg.OCR.Model, crnnParams)

			if err != nil {
				return nil, err
			}

			var tr ocr.TextReader = crnn

			if cfg.OCR.LocateLines {
				tr = ocr.NewLineReader(crnn, cfg.OCR.Lines())
			}

			return reader{
				CropReader: ocr.NewCropReader(tr, restorer, cfg.OCR.Reader(), &olog),
				crnn:       crnn,
			}, nil
		},
		func(r wagonocr.RegionReader) error {
			if rd, ok := r.(reader); ok {
				return rd.crnn.Close()
			}
			return nil
		})

	if err != nil {
		a.Close()
		return nil, fmt.Errorf("error creating reader pool: %w", err)
	}

	plog := logging.Component("pipeline")

	a.pipeline = wagonocr.NewPipeline(a.detector, a.readers,
		tracker.New(cfg.Tracker.Tracker()),
		wagonocr.PipelineOptions{
			Confidence:        cfg.Detect.Confidence,
			Labels:            labels,
			SequenceFromOrder: opts.FromOrder,
			OnFrame:           a.onFrame,
			Logger:            &plog,
		})

	return a, nil
}

// Close releases the models
func (a *App) Close() {

	if a.readers != nil {
		a.readers.Close()
	}

	if a.detector != nil {
		if err := a.detector.Close(); err != nil {
			a.log.Warn().Err(err).Msg("Error closing detector")
		}
	}
}

// onFrame logs the readings of a frame and writes the annotated frame
func (a *App) onFrame(res wagonocr.FrameResult, frame gocv.Mat) {

	for _, r := range res.Readings {
		if r.Text == "" {
			continue
		}

		a.log.Debug().Str("frame", res.Identifier).Str("text", r.Text).
			Float64("confidence", r.Confidence).Str("variant", r.Variant).
			Msg("Read wagon number")
	}

	for _, t := range res.Tracks {
		a.trail.Add(t)
	}

	a.trail.Prune(a.pipeline.Tracker().Active())

	if a.opts.OutDir == "" {
		return
	}

	img := frame.Clone()
	defer img.Close()

	if a.opts.Detections {
		dets := make([]detect.Detection, 0, len(res.Readings))

		for _, r := range res.Readings {
			dets = append(dets, r.Detection)
		}

		render.DetectionBoxes(&img, dets, a.font, 2)
	} else {
		render.TrackBoxes(&img, res.Tracks, a.font, 2)
	}

	render.Trail(&img, res.Tracks, a.trail, render.DefaultTrailStyle())

	path := filepath.Join(a.opts.OutDir, res.Identifier)

	if !gocv.IMWrite(path, img) {
		a.log.Warn().Str("path", path).Msg("Error writing annotated frame")
	}
}

// Run processes the frames under dir and returns the final results
func (a *App) Run(ctx context.Context, dir string) ([]tracker.Result, error) {

	paths, err := listFrames(dir)

	if err != nil {
		return nil, err
	}

	if len(paths) == 0 {
		return nil, fmt.Errorf("no frames found in %s", dir)
	}

	if a.opts.OutDir != "" {
		if err := os.MkdirAll(a.opts.OutDir, 0o755); err != nil {
			return nil, fmt.Errorf("error creating output dir: %w", err)
		}
	}

	start := time.Now()
	report, err := a.pipeline.ProcessFiles(ctx, paths)

	if err != nil {
		return nil, err
	}

	a.pipeline.Tracker().Finalize()
	results := a.pipeline.Results()

	a.log.Info().Int("processed", report.Processed).Int("skipped", report.Skipped).
		Int("tracks", len(results)).Dur("elapsed", time.Since(start)).
		Msg("Finished processing frames")

	return results, nil
}

// listFrames returns the image files directly under dir
func listFrames(dir string) ([]string, error) {

	entries, err := os.ReadDir(dir)

	if err != nil {
		return nil, fmt.Errorf("error reading frame dir: %w", err)
	}

	var paths []string

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png", ".bmp", ".tif", ".tiff", ".webp":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}

	return paths, nil
}

// save writes the results to the CSV report and the database when configured
func save(ctx context.Context, cfg config.Config, source string, results []tracker.Result) error {

	if cfg.Store.CSV != "" {
		f, err := os.Create(cfg.Store.CSV)

		if err != nil {
			return fmt.Errorf("error creating csv: %w", err)
		}

		err = store.WriteCSV(f, results)
		cerr := f.Close()

		if err != nil {
			return err
		}

		if cerr != nil {
			return fmt.Errorf("error closing csv: %w", cerr)
		}

		log.Info().Str("path", cfg.Store.CSV).Msg("Wrote CSV report")
	}

	if cfg.Store.Path != "" {
		db, err := store.Open(cfg.Store.Path)

		if err != nil {
			return err
		}

		defer db.Close()

		runID := uuid.New().String()

		if err := db.SaveRun(ctx, runID, source, results); err != nil {
			return err
		}

		log.Info().Str("run_id", runID).Str("path", cfg.Store.Path).
			Msg("Saved results to database")
	}

	return nil
}

// listRuns logs the runs saved in the database at path
func listRuns(ctx context.Context, path string) error {

	if path == "" {
		return fmt.Errorf("no database configured")
	}

	db, err := store.Open(path)

	if err != nil {
		return err
	}

	defer db.Close()

	runs, err := db.Runs(ctx)

	if err != nil {
		return err
	}

	for _, r := range runs {
		log.Info().Str("run_id", r.ID).Str("source", r.Source).
			Time("created_at", r.CreatedAt).Int("tracks", r.NumTracks).Msg("Run")
	}

	log.Info().Int("runs", len(runs)).Str("path", path).Msg("Listed runs")

	return nil
}

func main() {

	parser := argparse.NewParser("wagonocr", "Read railway wagon numbers from a directory of frames")
	input := parser.String("i", "input", &argparse.Options{Help: "Directory of frame images", Default: ""})
	cfgFile := parser.String("c", "config", &argparse.Options{Help: "YAML configuration file", Default: ""})
	outDir := parser.String("o", "output", &argparse.Options{Help: "Directory to write annotated frames to", Default: ""})
	csvFile := parser.String("", "csv", &argparse.Options{Help: "CSV report file, overrides the configuration", Default: ""})
	dbFile := parser.String("", "db", &argparse.Options{Help: "SQLite database file, overrides the configuration", Default: ""})
	workers := parser.Int("w", "workers", &argparse.Options{Help: "Number of frames analysed in parallel, overrides the configuration", Default: 0})
	cpus := parser.String("", "cpus", &argparse.Options{Help: "CPU cores to pin the process to, eg: 0-3,6", Default: ""})
	fromOrder := parser.Flag("", "order", &argparse.Options{Help: "Number frames by sorted position instead of digits in their names"})
	detections := parser.Flag("", "detections", &argparse.Options{Help: "Draw raw detections on annotated frames instead of tracks"})
	classNames := parser.String("", "class-names", &argparse.Options{Help: "Detector class names file, overrides the configuration", Default: ""})
	runs := parser.Flag("", "runs", &argparse.Options{Help: "List the runs saved in the database and exit"})
	logLevel := parser.String("l", "log-level", &argparse.Options{Help: "Log level, overrides the configuration", Default: ""})

	if err := parser.Parse(os.Args); err != nil {
		fmt.Fprint(os.Stderr, parser.Usage(err))
		os.Exit(1)
	}

	cfg, err := config.Load(*cfgFile)

	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	if *csvFile != "" {
		cfg.Store.CSV = *csvFile
	}

	if *dbFile != "" {
		cfg.Store.Path = *dbFile
	}

	if *workers > 0 {
		cfg.Pipeline.Workers = *workers
	}

	if *classNames != "" {
		cfg.Detect.ClassNames = *classNames
	}

	if err := logging.Init(cfg.Log.Level, cfg.Log.Console); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	if *cpus != "" {
		cores, err := wagonocr.ParseCPUList(*cpus)

		if err != nil {
			log.Fatal().Err(err).Msg("Invalid CPU list")
		}

		if err := wagonocr.SetCPUAffinity(wagonocr.CPUCoreMask(cores)); err != nil {
			log.Fatal().Err(err).Msg("Failed to set CPU affinity")
		}

		mask, err := wagonocr.GetCPUAffinity()

		if err != nil {
			log.Warn().Err(err).Msg("Failed to read CPU affinity")
		} else {
			log.Info().Ints("cores", cores).Str("mask", fmt.Sprintf("%#x", mask)).
				Msg("Pinned to CPU cores")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *runs {
		if err := listRuns(ctx, cfg.Store.Path); err != nil {
			log.Fatal().Err(err).Msg("Failed to list runs")
		}
		return
	}

	if *input == "" {
		fmt.Fprint(os.Stderr, parser.Usage("an input directory is required"))
		os.Exit(1)
	}

	app, err := NewApp(cfg, Options{
		OutDir:     *outDir,
		FromOrder:  *fromOrder,
		Detections: *detections,
	})

	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start")
	}

	results, err := app.Run(ctx, *input)
	app.Close()

	if err != nil {
		log.Fatal().Err(err).Msg("Failed to process frames")
	}

	for _, r := range results {
		log.Info().Int("track_id", r.TrackID).Str("text", r.BestText).
			Int("sightings", r.NumSightings).Float64("confidence", r.Confidence).
			Str("last_seen", r.LastSeenIdentifier).Msg("Track")
	}

	if err := save(ctx, cfg, *input, results); err != nil {
		log.Fatal().Err(err).Msg("Failed to save results")
	}
}
