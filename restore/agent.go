// Package restore wraps the restoration network for inference on single
// images along with blur analysis helpers.
package restore

import (
	"fmt"
	"image"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"github.com/swdee/go-wagonocr/checkpoint"
	"github.com/swdee/go-wagonocr/metrics"
	"github.com/swdee/go-wagonocr/nafnet"
	"github.com/swdee/go-wagonocr/preprocess"
	"github.com/swdee/go-wagonocr/tensor"
)

// DefaultTileOverlap is the share of a tile overlapping its neighbours
const DefaultTileOverlap = 0.25

// Config defines how an Agent is built
type Config struct {
	// ModelSize selects the network variant, small or medium
	ModelSize string
	// ModelConfig overrides ModelSize when set
	ModelConfig *nafnet.Config
	// CheckpointPath is an optional file with trained parameters
	CheckpointPath string
	// TileSize splits images larger than this into overlapping tiles, zero
	// processes whole images
	TileSize    int
	TileOverlap float32
	// BlurThreshold is the Laplacian variance below which an image is
	// reported as blurry
	BlurThreshold float64
	// BlurBlock is the tile size of the blur heat map
	BlurBlock int
	// Seed initialises parameters when no checkpoint is loaded
	Seed   uint64
	Logger *zerolog.Logger
}

// BlurReport is the result of blur analysis
type BlurReport struct {
	// Score is the variance of the Laplacian, lower is blurrier
	Score     float64
	IsBlurry  bool
	Threshold float64
}

// Agent restores images with a restoration network.  The network parameters
// are read only after construction and padding is tracked per call, so a
// single Agent may be used from multiple goroutines.
type Agent struct {
	cfg    Config
	model  *nafnet.Model
	codec  *preprocess.Codec
	loaded bool
	log    zerolog.Logger
}

// NewAgent builds the network and loads the checkpoint when one is given.  A
// missing or unusable checkpoint is not an error, the agent falls back to
// random weights and CheckpointLoaded reports false.
func NewAgent(cfg Config) (*Agent, error) {

	logger := log.Logger

	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	if cfg.ModelSize == "" {
		cfg.ModelSize = nafnet.SizeSmall
	}

	if cfg.BlurThreshold <= 0 {
		cfg.BlurThreshold = metrics.DefaultBlurThreshold
	}

	if cfg.BlurBlock <= 0 {
		cfg.BlurBlock = metrics.DefaultBlurBlock
	}

	if cfg.TileOverlap <= 0 {
		cfg.TileOverlap = DefaultTileOverlap
	}

	var model *nafnet.Model
	var err error

	if cfg.ModelConfig != nil {
		model, err = nafnet.New(*cfg.ModelConfig, cfg.Seed)
	} else {
		model, err = nafnet.NewSize(cfg.ModelSize, cfg.Seed)
	}

	if err != nil {
		return nil, err
	}

	stride := model.Config().Stride()

	if cfg.TileSize > 0 && cfg.TileSize%stride != 0 {
		return nil, fmt.Errorf("tile size %d is not a multiple of stride %d", cfg.TileSize, stride)
	}

	a := &Agent{
		cfg:   cfg,
		model: model,
		codec: preprocess.NewCodec(stride),
		log:   logger,
	}

	a.loaded = a.loadCheckpoint()

	return a, nil
}

// loadCheckpoint applies the configured checkpoint and reports success
func (a *Agent) loadCheckpoint() bool {

	if a.cfg.CheckpointPath == "" {
		a.log.Warn().Msg("No checkpoint configured, restoration uses random weights")
		return false
	}

	if !checkpoint.Exists(a.cfg.CheckpointPath) {
		a.log.Warn().Str("path", a.cfg.CheckpointPath).
			Msg("Checkpoint not found, restoration uses random weights")
		return false
	}

	ck, err := checkpoint.Load(a.cfg.CheckpointPath)

	if err != nil {
		a.log.Warn().Err(err).Msg("Checkpoint unreadable, restoration uses random weights")
		return false
	}

	if err := a.model.LoadStateDict(ck.Tensors()); err != nil {
		a.log.Warn().Err(err).Msg("Checkpoint does not fit model, restoration uses random weights")
		return false
	}

	a.log.Info().Str("path", a.cfg.CheckpointPath).Int("epoch", ck.Epoch).
		Float64("psnr", ck.PSNR).Msg("Loaded restoration checkpoint")

	return true
}

// CheckpointLoaded reports whether trained weights are in use.  When false
// the agent runs in degraded mode on randomly initialised weights.
func (a *Agent) CheckpointLoaded() bool {
	return a.loaded
}

// Model returns the underlying network
func (a *Agent) Model() *nafnet.Model {
	return a.model
}

// RestoreTensor restores an unpadded [1,3,H,W] tensor in [-1,1] and returns
// a tensor of the same shape
func (a *Agent) RestoreTensor(t *tensor.Tensor) (*tensor.Tensor, error) {

	_, _, h, w := t.Dims()

	if a.cfg.TileSize > 0 && (h > a.cfg.TileSize || w > a.cfg.TileSize) {
		return a.restoreTiles(t)
	}

	return a.restoreWhole(t)
}

// restoreWhole runs pad, one forward pass without gradient tracking and unpad
func (a *Agent) restoreWhole(t *tensor.Tensor) (*tensor.Tensor, error) {

	padded, enc, err := a.codec.EncodeTensor(t)

	if err != nil {
		return nil, err
	}

	out, err := a.model.Forward(nil, tensor.NewVar(padded))

	if err != nil {
		return nil, fmt.Errorf("error running restoration: %w", err)
	}

	return a.codec.DecodeTensor(out.Value, enc)
}

// restoreTiles restores overlapping tiles independently and averages the
// overlapping regions
func (a *Agent) restoreTiles(t *tensor.Tensor) (*tensor.Tensor, error) {

	_, c, h, w := t.Dims()

	tiler := preprocess.NewTiler(a.cfg.TileSize, a.cfg.TileSize, a.cfg.TileOverlap)
	sum := tensor.New(1, c, h, w)
	weight := make([]float32, h*w)

	for _, r := range tiler.Tiles(w, h) {
		tile := preprocess.Crop(t, r.Min.Y, r.Min.X, r.Dy(), r.Dx())

		out, err := a.restoreWhole(tile)

		if err != nil {
			return nil, err
		}

		for ch := 0; ch < c; ch++ {
			for y := 0; y < r.Dy(); y++ {
				for x := 0; x < r.Dx(); x++ {
					idx := sum.Index(0, ch, r.Min.Y+y, r.Min.X+x)
					sum.Data[idx] += out.At(0, ch, y, x)
				}
			}
		}

		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				weight[y*w+x]++
			}
		}
	}

	plane := h * w

	for i, v := range sum.Data {
		sum.Data[i] = v / weight[i%plane]
	}

	return sum, nil
}

// Restore deblurs a BGR Mat.  The caller must Close the returned Mat.
func (a *Agent) Restore(mat gocv.Mat) (gocv.Mat, error) {

	t, err := preprocess.MatToTensor(mat)

	if err != nil {
		return gocv.NewMat(), err
	}

	out, err := a.RestoreTensor(t)

	if err != nil {
		return gocv.NewMat(), err
	}

	return preprocess.TensorToMat(out)
}

// RestoreImage deblurs an image
func (a *Agent) RestoreImage(img image.Image) (*image.RGBA, error) {

	t, err := preprocess.ImageToTensor(img)

	if err != nil {
		return nil, err
	}

	out, err := a.RestoreTensor(t)

	if err != nil {
		return nil, err
	}

	return preprocess.TensorToImage(out)
}

// Analyze scores the sharpness of an image
func (a *Agent) Analyze(mat gocv.Mat) (BlurReport, error) {

	score, err := metrics.LaplacianVariance(mat)

	if err != nil {
		return BlurReport{}, err
	}

	return BlurReport{
		Score:     score,
		IsBlurry:  score < a.cfg.BlurThreshold,
		Threshold: a.cfg.BlurThreshold,
	}, nil
}

// BlurMap scores each block of the image and renders a heat map the size of
// the image.  The caller must Close the returned Mat.
func (a *Agent) BlurMap(mat gocv.Mat) (*metrics.BlurMap, gocv.Mat, error) {

	bm, err := metrics.ComputeBlurMap(mat, a.cfg.BlurBlock)

	if err != nil {
		return nil, gocv.NewMat(), err
	}

	return bm, bm.HeatMap(mat.Cols(), mat.Rows()), nil
}
