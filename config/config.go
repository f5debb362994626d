// Package config loads the YAML configuration shared by the wagonocr
// binaries.  Every component receives its own section at construction.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/swdee/go-wagonocr/detect"
	"github.com/swdee/go-wagonocr/metrics"
	"github.com/swdee/go-wagonocr/nafnet"
	"github.com/swdee/go-wagonocr/ocr"
	"github.com/swdee/go-wagonocr/restore"
	"github.com/swdee/go-wagonocr/tracker"
	"github.com/swdee/go-wagonocr/train"
)

// EnvPrefix prefixes the environment variables that override file values
const EnvPrefix = "WAGONOCR_"

// Config is the complete configuration
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Restore  RestoreConfig  `yaml:"restore"`
	Train    TrainConfig    `yaml:"train"`
	Detect   DetectConfig   `yaml:"detect"`
	OCR      OCRConfig      `yaml:"ocr"`
	Tracker  TrackerConfig  `yaml:"tracker"`
	Store    StoreConfig    `yaml:"store"`
	Pipeline PipelineConfig `yaml:"pipeline"`
}

// LogConfig selects the log level and output format
type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

// RestoreConfig configures the restoration agent
type RestoreConfig struct {
	Enabled       bool    `yaml:"enabled"`
	ModelSize     string  `yaml:"model_size"`
	Checkpoint    string  `yaml:"checkpoint"`
	TileSize      int     `yaml:"tile_size"`
	TileOverlap   float32 `yaml:"tile_overlap"`
	BlurThreshold float64 `yaml:"blur_threshold"`
	BlurBlock     int     `yaml:"blur_block"`
	Seed          uint64  `yaml:"seed"`
}

// TrainConfig configures restoration training
type TrainConfig struct {
	BlurDir          string  `yaml:"blur_dir"`
	SharpDir         string  `yaml:"sharp_dir"`
	CheckpointDir    string  `yaml:"checkpoint_dir"`
	ModelSize        string  `yaml:"model_size"`
	Epochs           int     `yaml:"epochs"`
	BatchSize        int     `yaml:"batch_size"`
	PatchSize        int     `yaml:"patch_size"`
	LR               float32 `yaml:"lr"`
	EtaMin           float32 `yaml:"eta_min"`
	WeightDecay      float32 `yaml:"weight_decay"`
	ValFraction      float64 `yaml:"val_fraction"`
	Seed             uint64  `yaml:"seed"`
	PixelLoss        string  `yaml:"pixel_loss"`
	PerceptualWeight float32 `yaml:"perceptual_weight"`
	PerceptualLayer  string  `yaml:"perceptual_layer"`
	VGGWeights       string  `yaml:"vgg_weights"`
	MixedPrecision   bool    `yaml:"mixed_precision"`
	MaxSamples       int     `yaml:"max_samples"`
	Resume           bool    `yaml:"resume"`
	PlotPath         string  `yaml:"plot_path"`
}

// DetectConfig configures the vehicle detector
type DetectConfig struct {
	Model        string   `yaml:"model"`
	InputSize    int      `yaml:"input_size"`
	Confidence   float32  `yaml:"confidence"`
	NMSThreshold float32  `yaml:"nms_threshold"`
	Labels       []string `yaml:"labels"`
	// ClassNames is a file of the model's class names, one per line, for
	// detectors not trained on COCO
	ClassNames string `yaml:"class_names"`
}

// OCRConfig configures the text recogniser and crop reader
type OCRConfig struct {
	Model         string  `yaml:"model"`
	Charset       string  `yaml:"charset"`
	InputWidth    int     `yaml:"input_width"`
	InputHeight   int     `yaml:"input_height"`
	Allow         string  `yaml:"allow"`
	MinLength     int     `yaml:"min_length"`
	MinDigits     int     `yaml:"min_digits"`
	MinConfidence float64 `yaml:"min_confidence"`
	PadRatio      float64 `yaml:"pad_ratio"`
	// LocateLines splits crops into text lines before recognition
	LocateLines bool    `yaml:"locate_lines"`
	UnclipRatio float64 `yaml:"unclip_ratio"`
	MaxLines    int     `yaml:"max_lines"`
}

// TrackerConfig configures the multi-frame tracker
type TrackerConfig struct {
	IoUThreshold float64 `yaml:"iou_threshold"`
	MaxAge       int     `yaml:"max_age"`
}

// StoreConfig sets where results are written
type StoreConfig struct {
	// Path is the SQLite database, empty disables it
	Path string `yaml:"path"`
	// CSV is the report file, empty disables it
	CSV string `yaml:"csv"`
}

// PipelineConfig sets pipeline concurrency
type PipelineConfig struct {
	// Workers is the number of frames read in parallel
	Workers int `yaml:"workers"`
}

// Default returns the configuration used when no file overrides it
func Default() Config {

	topts := train.DefaultOptions()
	rcfg := ocr.DefaultReaderConfig()

	return Config{
		Log: LogConfig{
			Level:   "info",
			Console: true,
		},
		Restore: RestoreConfig{
			Enabled:       true,
			ModelSize:     nafnet.SizeSmall,
			Checkpoint:    "checkpoints/best.ckpt",
			TileOverlap:   restore.DefaultTileOverlap,
			BlurThreshold: metrics.DefaultBlurThreshold,
			BlurBlock:     metrics.DefaultBlurBlock,
		},
		Train: TrainConfig{
			CheckpointDir:    topts.CheckpointDir,
			ModelSize:        topts.ModelSize,
			Epochs:           topts.Epochs,
			BatchSize:        topts.BatchSize,
			PatchSize:        topts.PatchSize,
			LR:               topts.LR,
			EtaMin:           topts.EtaMin,
			WeightDecay:      topts.WeightDecay,
			ValFraction:      topts.ValFraction,
			Seed:             topts.Seed,
			PixelLoss:        topts.PixelLoss,
			PerceptualWeight: topts.PerceptualWeight,
			PerceptualLayer:  topts.PerceptualLayer,
			Resume:           topts.Resume,
		},
		Detect: DetectConfig{
			Model:        "models/yolov8n.onnx",
			InputSize:    640,
			Confidence:   0.25,
			NMSThreshold: 0.45,
			Labels:       labelNames(detect.DefaultWagonLabels),
		},
		OCR: OCRConfig{
			Model:         "models/rec.onnx",
			Charset:       "models/rec_keys.txt",
			InputWidth:    320,
			InputHeight:   48,
			Allow:         rcfg.Allow,
			MinLength:     rcfg.MinLength,
			MinDigits:     rcfg.MinDigits,
			MinConfidence: rcfg.MinConfidence,
			PadRatio:      rcfg.PadRatio,
			LocateLines:   true,
			UnclipRatio:   ocr.DefaultUnclipRatio,
			MaxLines:      ocr.DefaultLineParams().MaxLines,
		},
		Tracker: TrackerConfig{
			IoUThreshold: tracker.DefaultIoUThreshold,
			MaxAge:       tracker.DefaultMaxAge,
		},
		Store: StoreConfig{
			CSV: "wagon_tracks.csv",
		},
		Pipeline: PipelineConfig{
			Workers: 1,
		},
	}
}

func labelNames(labels []detect.Label) []string {

	names := make([]string, len(labels))

	for i, l := range labels {
		names[i] = l.String()
	}

	return names
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result.  An empty path loads only defaults
// and environment values.
func Load(path string) (Config, error) {

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)

		if err != nil {
			return Config{}, fmt.Errorf("error reading config: %w", err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("error parsing %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// applyEnv overrides file values with WAGONOCR_ environment variables
func (c *Config) applyEnv() error {

	envOverride(&c.Log.Level, "LOG_LEVEL")
	envOverride(&c.Restore.Checkpoint, "CHECKPOINT")
	envOverride(&c.Detect.Model, "DETECT_MODEL")
	envOverride(&c.OCR.Model, "OCR_MODEL")
	envOverride(&c.OCR.Charset, "OCR_CHARSET")
	envOverride(&c.Store.Path, "DB_PATH")

	if err := envOverrideInt(&c.Pipeline.Workers, "WORKERS"); err != nil {
		return err
	}

	return nil
}

func envOverride(dst *string, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		*dst = v
	}
}

func envOverrideInt(dst *int, key string) error {

	v := os.Getenv(EnvPrefix + key)

	if v == "" {
		return nil
	}

	n, err := strconv.Atoi(v)

	if err != nil {
		return fmt.Errorf("invalid %s%s %q: %w", EnvPrefix, key, v, err)
	}

	*dst = n

	return nil
}

// Validate checks the configuration for values no component can use
func (c Config) Validate() error {

	var problems []string

	if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		problems = append(problems, fmt.Sprintf("log.level: %v", err))
	}

	if _, err := nafnet.ConfigFor(c.Restore.ModelSize); err != nil {
		problems = append(problems, fmt.Sprintf("restore.model_size: %v", err))
	}

	if mc, err := nafnet.ConfigFor(c.Train.ModelSize); err != nil {
		problems = append(problems, fmt.Sprintf("train.model_size: %v", err))
	} else if c.Train.PatchSize > 0 && c.Train.PatchSize%mc.Stride() != 0 {
		problems = append(problems, fmt.Sprintf("train.patch_size %d is not a multiple of the model stride %d",
			c.Train.PatchSize, mc.Stride()))
	}

	if c.Restore.TileSize < 0 {
		problems = append(problems, "restore.tile_size must not be negative")
	}

	if c.Train.Epochs < 1 || c.Train.BatchSize < 1 || c.Train.PatchSize < 1 {
		problems = append(problems, "train.epochs, batch_size and patch_size must be positive")
	}

	if c.Train.ValFraction < 0 || c.Train.ValFraction >= 1 {
		problems = append(problems, "train.val_fraction must be in [0, 1)")
	}

	if c.Detect.Confidence < 0 || c.Detect.Confidence > 1 {
		problems = append(problems, "detect.confidence must be in [0, 1]")
	}

	if _, err := c.Detect.ParseLabels(); err != nil {
		problems = append(problems, fmt.Sprintf("detect.labels: %v", err))
	}

	if c.OCR.MinLength < 1 || c.OCR.MinDigits < 0 {
		problems = append(problems, "ocr.min_length must be positive and ocr.min_digits not negative")
	}

	if c.OCR.PadRatio < 0 {
		problems = append(problems, "ocr.pad_ratio must not be negative")
	}

	if c.OCR.LocateLines && (c.OCR.UnclipRatio <= 0 || c.OCR.MaxLines < 0) {
		problems = append(problems, "ocr.unclip_ratio must be positive and ocr.max_lines not negative")
	}

	if err := c.Tracker.Tracker().Validate(); err != nil {
		problems = append(problems, fmt.Sprintf("tracker: %v", err))
	}

	if c.Pipeline.Workers < 1 {
		problems = append(problems, "pipeline.workers must be at least 1")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}

	return nil
}

// Agent returns the restoration agent configuration
func (r RestoreConfig) Agent(logger *zerolog.Logger) restore.Config {
	return restore.Config{
		ModelSize:      r.ModelSize,
		CheckpointPath: r.Checkpoint,
		TileSize:       r.TileSize,
		TileOverlap:    r.TileOverlap,
		BlurThreshold:  r.BlurThreshold,
		BlurBlock:      r.BlurBlock,
		Seed:           r.Seed,
		Logger:         logger,
	}
}

// Options returns the training options
func (t TrainConfig) Options(logger *zerolog.Logger) train.Options {
	return train.Options{
		BlurDir:          t.BlurDir,
		SharpDir:         t.SharpDir,
		CheckpointDir:    t.CheckpointDir,
		ModelSize:        t.ModelSize,
		Epochs:           t.Epochs,
		BatchSize:        t.BatchSize,
		PatchSize:        t.PatchSize,
		LR:               t.LR,
		EtaMin:           t.EtaMin,
		WeightDecay:      t.WeightDecay,
		ValFraction:      t.ValFraction,
		Seed:             t.Seed,
		PixelLoss:        t.PixelLoss,
		PerceptualWeight: t.PerceptualWeight,
		PerceptualLayer:  t.PerceptualLayer,
		VGGWeights:       t.VGGWeights,
		MixedPrecision:   t.MixedPrecision,
		MaxSamples:       t.MaxSamples,
		Resume:           t.Resume,
		PlotPath:         t.PlotPath,
		Logger:           logger,
	}
}

// ParseLabels converts the configured label names
func (d DetectConfig) ParseLabels() ([]detect.Label, error) {

	labels := make([]detect.Label, 0, len(d.Labels))

	for _, name := range d.Labels {
		l, err := detect.ParseLabel(name)

		if err != nil {
			return nil, err
		}

		labels = append(labels, l)
	}

	return labels, nil
}

// Params returns the detector parameters
func (d DetectConfig) Params() detect.YOLOv8Params {

	p := detect.YOLOv8COCOParams()

	if d.InputSize > 0 {
		p.InputWidth = d.InputSize
		p.InputHeight = d.InputSize
	}

	if d.NMSThreshold > 0 {
		p.NMSThreshold = d.NMSThreshold
	}

	return p
}

// Reader returns the crop reader acceptance rules
func (o OCRConfig) Reader() ocr.ReaderConfig {
	return ocr.ReaderConfig{
		Allow:         o.Allow,
		MinLength:     o.MinLength,
		MinDigits:     o.MinDigits,
		MinConfidence: o.MinConfidence,
		PadRatio:      o.PadRatio,
	}
}

// Lines returns the text line finding parameters
func (o OCRConfig) Lines() ocr.LineParams {

	p := ocr.DefaultLineParams()
	p.UnclipRatio = o.UnclipRatio
	p.MaxLines = o.MaxLines

	return p
}

// Tracker returns the tracker parameters
func (t TrackerConfig) Tracker() tracker.Config {
	return tracker.Config{
		IoUThreshold: t.IoUThreshold,
		MaxAge:       t.MaxAge,
	}
}
