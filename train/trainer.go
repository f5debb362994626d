package train

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/swdee/go-wagonocr/checkpoint"
	"github.com/swdee/go-wagonocr/loss"
	"github.com/swdee/go-wagonocr/metrics"
	"github.com/swdee/go-wagonocr/nafnet"
	"github.com/swdee/go-wagonocr/tensor"
)

const (
	// LatestCheckpoint is written at the end of every epoch
	LatestCheckpoint = "latest.ckpt"
	// BestCheckpoint is written when validation PSNR improves
	BestCheckpoint = "best.ckpt"
)

// Options configures a training run
type Options struct {
	// BlurDir and SharpDir hold image pairs matched by file name
	BlurDir  string
	SharpDir string
	// CheckpointDir receives latest.ckpt and best.ckpt
	CheckpointDir string
	// ModelSize selects the network variant, small or medium
	ModelSize string
	// ModelConfig overrides ModelSize when set
	ModelConfig *nafnet.Config
	Epochs      int
	BatchSize   int
	PatchSize   int
	LR          float32
	EtaMin      float32
	WeightDecay float32
	// ValFraction is the share of pairs held out for validation
	ValFraction float64
	// Seed drives the split, shuffling, augmentation and initialisation
	Seed uint64
	// PixelLoss is one of charbonnier, l1 or mse
	PixelLoss string
	// PerceptualWeight scales the perceptual term, zero disables it
	PerceptualWeight float32
	// PerceptualLayer is the deepest VGG19 activation used
	PerceptualLayer string
	// VGGWeights is an optional checkpoint file holding VGG19 features.N
	// parameters
	VGGWeights string
	// MixedPrecision rounds activations to half precision with dynamic loss
	// scaling
	MixedPrecision bool
	// MaxSamples limits the dataset size, zero for all
	MaxSamples int
	// Resume continues from latest.ckpt when present
	Resume bool
	// PlotPath writes loss and PSNR curves to a PNG when set
	PlotPath string
	Logger   *zerolog.Logger
}

// DefaultOptions returns the standard training configuration
func DefaultOptions() Options {
	return Options{
		CheckpointDir:    "checkpoints",
		ModelSize:        nafnet.SizeSmall,
		Epochs:           100,
		BatchSize:        4,
		PatchSize:        DefaultPatchSize,
		LR:               DefaultLR,
		EtaMin:           DefaultEtaMin,
		WeightDecay:      DefaultWeightDecay,
		ValFraction:      DefaultValFraction,
		Seed:             DefaultSplitSeed,
		PixelLoss:        "charbonnier",
		PerceptualWeight: loss.DefaultPerceptualWeight,
		PerceptualLayer:  loss.DefaultPerceptualLayer,
		Resume:           true,
	}
}

// EpochRecord summarises one epoch
type EpochRecord struct {
	Epoch           int
	LR              float32
	TrainLoss       float64
	TrainPixel      float64
	TrainPerceptual float64
	TrainPSNR       float64
	ValLoss         float64
	ValPSNR         float64
	Best            bool
	// SkippedSteps counts optimizer steps dropped due to gradient overflow
	SkippedSteps int
	Duration     time.Duration
}

// Trainer runs the epoch state machine of train, validate and checkpoint
type Trainer struct {
	opts      Options
	sizeName  string
	model     *nafnet.Model
	optim     *AdamW
	sched     *CosineScheduler
	scaler    *GradScaler
	objective *loss.Composite
	pixel     loss.PixelFunc
	trainData *Loader
	valData   *Loader
	start     int
	best      float64
	log       zerolog.Logger
}

// NewTrainer builds the dataset, model, loss and optimizer and resumes from
// the latest checkpoint when requested
func NewTrainer(opts Options) (*Trainer, error) {

	logger := log.Logger

	if opts.Logger != nil {
		logger = *opts.Logger
	}

	t := &Trainer{
		opts: opts,
		log:  logger,
		best: -1,
	}

	ds, err := NewPairedDataset(opts.BlurDir, opts.SharpDir, DatasetOptions{
		MaxSamples: opts.MaxSamples,
		Logger:     &logger,
	})

	if err != nil {
		return nil, err
	}

	trainSet, valSet := ds.Split(opts.ValFraction, opts.Seed)

	if trainSet.Len() == 0 {
		return nil, fmt.Errorf("%w: no pairs left for training after split", ErrEmptyDataset)
	}

	aug := NewAugmenter(opts.PatchSize, opts.Seed)
	t.trainData = NewLoader(trainSet, aug, opts.BatchSize, true, opts.Seed)

	if valSet.Len() > 0 {
		t.valData = NewLoader(valSet, aug, opts.BatchSize, false, opts.Seed)
	} else {
		t.log.Warn().Int("pairs", ds.Len()).
			Msg("No validation pairs, best checkpoint will not be written")
	}

	if opts.ModelConfig != nil {
		t.sizeName = "custom"
		t.model, err = nafnet.New(*opts.ModelConfig, opts.Seed)
	} else {
		t.sizeName = opts.ModelSize
		t.model, err = nafnet.NewSize(opts.ModelSize, opts.Seed)
	}

	if err != nil {
		return nil, err
	}

	if stride := t.model.Config().Stride(); opts.PatchSize%stride != 0 {
		return nil, fmt.Errorf("patch size %d is not a multiple of the model stride %d", opts.PatchSize, stride)
	}

	t.pixel, err = loss.PixelByName(opts.PixelLoss)

	if err != nil {
		return nil, err
	}

	var perc *loss.Perceptual

	if opts.PerceptualWeight > 0 {
		perc, err = t.perceptual()

		if err != nil {
			return nil, err
		}
	}

	t.objective = loss.NewComposite(t.pixel, perc)
	t.objective.Weight = opts.PerceptualWeight

	t.optim = NewAdamW(opts.LR, opts.WeightDecay)
	t.sched = NewCosineScheduler(opts.LR, opts.EtaMin, opts.Epochs)

	if opts.MixedPrecision {
		t.scaler = NewGradScaler()
	}

	if opts.Resume {
		if err := t.resume(); err != nil {
			return nil, err
		}
	}

	t.log.Info().
		Str("model", t.sizeName).
		Int("params", t.model.NumParams()).
		Int("train_pairs", trainSet.Len()).
		Int("val_pairs", valSet.Len()).
		Int("start_epoch", t.start).
		Msg("Trainer ready")

	return t, nil
}

// perceptual builds the feature loss and loads VGG weights when configured
func (t *Trainer) perceptual() (*loss.Perceptual, error) {

	perc, err := loss.NewPerceptual(t.opts.PerceptualLayer, t.opts.Seed+1)

	if err != nil {
		return nil, err
	}

	if t.opts.VGGWeights == "" {
		t.log.Warn().Msg("No VGG weights supplied, perceptual features are randomly initialised")
		return perc, nil
	}

	ck, err := checkpoint.Load(t.opts.VGGWeights)

	if err != nil {
		return nil, fmt.Errorf("error loading VGG weights: %w", err)
	}

	if err := perc.LoadStateDict(ck.Tensors()); err != nil {
		return nil, err
	}

	return perc, nil
}

// resume restores training state from latest.ckpt.  A missing checkpoint
// means starting from scratch.
func (t *Trainer) resume() error {

	latest := filepath.Join(t.opts.CheckpointDir, LatestCheckpoint)

	if !checkpoint.Exists(latest) {
		return nil
	}

	ck, err := checkpoint.Load(latest)

	if err != nil {
		t.log.Warn().Err(err).Msg("Ignoring unreadable checkpoint, starting from scratch")
		return nil
	}

	if err := t.model.LoadStateDict(ck.Tensors()); err != nil {
		return fmt.Errorf("error resuming model: %w", err)
	}

	t.optim.LoadState(ck.OptimizerState)
	t.sched.LoadState(ck.SchedulerState)

	if t.scaler != nil {
		t.scaler.LoadState(ck.ScalerState)
	}

	t.start = ck.Epoch + 1
	t.best = ck.PSNR

	bestPath := filepath.Join(t.opts.CheckpointDir, BestCheckpoint)

	if checkpoint.Exists(bestPath) {
		if b, err := checkpoint.Load(bestPath); err == nil {
			t.best = b.PSNR
		}
	}

	t.log.Info().Str("path", latest).Int("epoch", ck.Epoch).
		Float64("best_psnr", t.best).Msg("Resumed training")

	return nil
}

// Model returns the network being trained
func (t *Trainer) Model() *nafnet.Model {
	return t.model
}

// StartEpoch returns the first epoch Run will execute
func (t *Trainer) StartEpoch() int {
	return t.start
}

// Run trains until the configured epoch count is reached or ctx is cancelled
// and returns a record per completed epoch
func (t *Trainer) Run(ctx context.Context) ([]EpochRecord, error) {

	var history []EpochRecord

	for epoch := t.start; epoch < t.opts.Epochs; epoch++ {

		began := time.Now()
		t.optim.LR = t.sched.LRAt(epoch)

		rec, err := t.trainEpoch(ctx)

		if err != nil {
			return history, err
		}

		rec.Epoch = epoch
		rec.LR = t.optim.LR

		rec.ValLoss, rec.ValPSNR, err = t.validate(ctx)

		if err != nil {
			return history, err
		}

		t.sched.LastEpoch = epoch + 1

		// without validation there is no metric to rank epochs by
		rec.Best = t.valData != nil && rec.ValPSNR > t.best

		if rec.Best {
			t.best = rec.ValPSNR
		}

		if err := t.checkpoint(epoch, rec); err != nil {
			return history, err
		}

		rec.Duration = time.Since(began)
		history = append(history, rec)

		t.log.Info().
			Int("epoch", epoch).
			Float32("lr", rec.LR).
			Float64("train_loss", rec.TrainLoss).
			Float64("train_psnr", rec.TrainPSNR).
			Float64("val_loss", rec.ValLoss).
			Float64("val_psnr", rec.ValPSNR).
			Bool("best", rec.Best).
			Dur("took", rec.Duration).
			Msg("Epoch complete")
	}

	if t.opts.PlotPath != "" && len(history) > 0 {
		if err := PlotHistory(history, t.opts.PlotPath); err != nil {
			t.log.Warn().Err(err).Msg("Failed to plot training history")
		}
	}

	return history, nil
}

// trainEpoch runs the TRAIN phase
func (t *Trainer) trainEpoch(ctx context.Context) (EpochRecord, error) {

	var rec EpochRecord
	var total, pixel, perc, psnr metrics.Meter

	params := t.model.Params()

	err := t.trainData.Each(ctx, func(b Batch) error {

		g := tensor.NewGraph()
		g.Half = t.opts.MixedPrecision

		t.model.ZeroGrad()

		out, err := t.model.Forward(g, tensor.NewVar(b.Blur))

		if err != nil {
			return err
		}

		l, terms := t.objective.Loss(g, out, tensor.NewVar(b.Sharp))

		seed := float32(1)

		if t.scaler != nil {
			seed = t.scaler.Scale
		}

		g.Backward(l, seed)

		step := true

		if t.scaler != nil {
			step = t.scaler.Unscale(params)
			t.scaler.Update(!step)
		}

		if step {
			t.optim.Step(params)
		} else {
			rec.SkippedSteps++
		}

		total.Add(float64(terms.Total))
		pixel.Add(float64(terms.Pixel))
		perc.Add(float64(terms.Perceptual))

		vals, err := metrics.PSNRTensor(out.Value, b.Sharp)

		if err != nil {
			return err
		}

		psnr.AddAll(vals)

		return nil
	})

	if err != nil {
		return rec, err
	}

	rec.TrainLoss = total.Mean()
	rec.TrainPixel = pixel.Mean()
	rec.TrainPerceptual = perc.Mean()
	rec.TrainPSNR = psnr.Mean()

	return rec, nil
}

// validate runs the VALIDATE phase without gradient tracking using the pixel
// loss only
func (t *Trainer) validate(ctx context.Context) (float64, float64, error) {

	if t.valData == nil {
		return 0, 0, nil
	}

	var lossMeter, psnr metrics.Meter

	err := t.valData.Each(ctx, func(b Batch) error {

		out, err := t.model.Forward(nil, tensor.NewVar(b.Blur))

		if err != nil {
			return err
		}

		l := t.pixel(nil, out, tensor.NewVar(b.Sharp))
		lossMeter.Add(float64(l.Value.Data[0]))

		vals, err := metrics.PSNRTensor(out.Value, b.Sharp)

		if err != nil {
			return err
		}

		psnr.AddAll(vals)

		return nil
	})

	if err != nil {
		return 0, 0, err
	}

	return lossMeter.Mean(), psnr.Mean(), nil
}

// checkpoint runs the CHECKPOINT phase
func (t *Trainer) checkpoint(epoch int, rec EpochRecord) error {

	ck := checkpoint.New(t.sizeName, t.model.StateDict())
	ck.Epoch = epoch
	ck.PSNR = rec.ValPSNR
	ck.OptimizerState = t.optim.State()
	ck.SchedulerState = t.sched.State()

	if t.scaler != nil {
		ck.ScalerState = t.scaler.State()
	}

	latest := filepath.Join(t.opts.CheckpointDir, LatestCheckpoint)

	if err := checkpoint.Save(latest, ck); err != nil {
		return fmt.Errorf("error saving latest checkpoint: %w", err)
	}

	if !rec.Best {
		return nil
	}

	best := filepath.Join(t.opts.CheckpointDir, BestCheckpoint)

	if err := checkpoint.Save(best, ck); err != nil {
		return fmt.Errorf("error saving best checkpoint: %w", err)
	}

	t.log.Info().Int("epoch", epoch).Float64("psnr", rec.ValPSNR).Msg("New best checkpoint")

	return nil
}

// IsCancelled reports whether err stems from context cancellation
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
