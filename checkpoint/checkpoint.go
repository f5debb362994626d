// Package checkpoint persists restoration model parameters together with the
// training state needed to resume.  Files are gob encoded and zstd compressed
// behind a short magic header.
package checkpoint

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/swdee/go-wagonocr/tensor"
)

var (
	// ErrMissingModelState is returned when a checkpoint holds no parameters
	ErrMissingModelState = errors.New("checkpoint has no model state")
	// ErrBadMagic is returned when a file is not a checkpoint
	ErrBadMagic = errors.New("not a wagonocr checkpoint")
)

// magic identifies the file format and version
var magic = []byte{'W', 'C', 'K', 1}

// Array is a named parameter value in a serialisable form
type Array struct {
	Shape []int
	Data  []float32
}

// OptimizerState is the AdamW state needed to resume training
type OptimizerState struct {
	// Step is the number of optimizer steps taken
	Step int
	// LR is the learning rate in effect at the last step
	LR float32
	// M and V are the first and second moment estimates keyed by parameter
	// name
	M map[string]Array
	V map[string]Array
}

// SchedulerState is the cosine annealing schedule position
type SchedulerState struct {
	BaseLR    float32
	EtaMin    float32
	TMax      int
	LastEpoch int
}

// ScalerState is the dynamic loss scale of mixed precision training
type ScalerState struct {
	Scale     float32
	GoodSteps int
}

// Meta describes the run that produced a checkpoint
type Meta struct {
	RunID     string
	ModelSize string
	CreatedAt time.Time
}

// Checkpoint is the persisted record.  ModelState is required, every other
// field is optional and inference only reads ModelState.
type Checkpoint struct {
	ModelState     map[string]Array
	Epoch          int
	PSNR           float64
	OptimizerState *OptimizerState
	SchedulerState *SchedulerState
	ScalerState    *ScalerState
	Meta           Meta
}

// New returns a checkpoint for the given parameters with a fresh run id
func New(modelSize string, state map[string]*tensor.Tensor) *Checkpoint {
	return &Checkpoint{
		ModelState: FromTensors(state),
		Meta: Meta{
			RunID:     uuid.New().String(),
			ModelSize: modelSize,
			CreatedAt: time.Now().UTC(),
		},
	}
}

// Validate checks the required fields are present
func (c *Checkpoint) Validate() error {

	if len(c.ModelState) == 0 {
		return ErrMissingModelState
	}

	for name, a := range c.ModelState {
		n := 1

		for _, d := range a.Shape {
			n *= d
		}

		if n != len(a.Data) {
			return fmt.Errorf("parameter %s has %d values for shape %v", name, len(a.Data), a.Shape)
		}
	}

	return nil
}

// Tensors returns the model state as tensors suitable for
// nafnet.Model.LoadStateDict
func (c *Checkpoint) Tensors() map[string]*tensor.Tensor {
	return ToTensors(c.ModelState)
}

// Names returns the sorted parameter names
func (c *Checkpoint) Names() []string {

	names := make([]string, 0, len(c.ModelState))

	for k := range c.ModelState {
		names = append(names, k)
	}

	sort.Strings(names)

	return names
}

// FromTensors copies tensors into serialisable arrays
func FromTensors(state map[string]*tensor.Tensor) map[string]Array {

	out := make(map[string]Array, len(state))

	for k, t := range state {
		out[k] = Array{
			Shape: append([]int(nil), t.Shape...),
			Data:  append([]float32(nil), t.Data...),
		}
	}

	return out
}

// ToTensors wraps arrays as tensors without copying their data
func ToTensors(state map[string]Array) map[string]*tensor.Tensor {

	out := make(map[string]*tensor.Tensor, len(state))

	for k, a := range state {
		out[k] = &tensor.Tensor{Shape: a.Shape, Data: a.Data}
	}

	return out
}

// Marshal encodes the checkpoint to its file representation
func Marshal(c *Checkpoint) ([]byte, error) {

	if err := c.Validate(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer

	if err := gob.NewEncoder(&buf).Encode(c); err != nil {
		return nil, fmt.Errorf("error encoding checkpoint: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))

	if err != nil {
		return nil, fmt.Errorf("error creating zstd encoder: %w", err)
	}

	defer enc.Close()

	out := make([]byte, 0, len(magic)+buf.Len()/2)
	out = append(out, magic...)

	return enc.EncodeAll(buf.Bytes(), out), nil
}

// Unmarshal decodes and validates a checkpoint
func Unmarshal(data []byte) (*Checkpoint, error) {

	if len(data) < len(magic) || !bytes.Equal(data[:len(magic)], magic) {
		return nil, ErrBadMagic
	}

	dec, err := zstd.NewReader(nil)

	if err != nil {
		return nil, fmt.Errorf("error creating zstd decoder: %w", err)
	}

	defer dec.Close()

	raw, err := dec.DecodeAll(data[len(magic):], nil)

	if err != nil {
		return nil, fmt.Errorf("error decompressing checkpoint: %w", err)
	}

	c := &Checkpoint{}

	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(c); err != nil {
		return nil, fmt.Errorf("error decoding checkpoint: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}

// Save writes the checkpoint to path, going through a temporary file in the
// same directory so a crash never leaves a truncated checkpoint behind
func Save(path string, c *Checkpoint) error {

	data, err := Marshal(c)

	if err != nil {
		return err
	}

	dir := filepath.Dir(path)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating checkpoint dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")

	if err != nil {
		return fmt.Errorf("error creating temp file: %w", err)
	}

	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("error writing checkpoint: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("error closing checkpoint: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("error renaming checkpoint: %w", err)
	}

	return nil
}

// Load reads and validates the checkpoint at path
func Load(path string) (*Checkpoint, error) {

	data, err := os.ReadFile(path)

	if err != nil {
		return nil, fmt.Errorf("error reading checkpoint: %w", err)
	}

	c, err := Unmarshal(data)

	if err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", path, err)
	}

	return c, nil
}

// Exists reports whether a regular file is present at path
func Exists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}
