package nafnet

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownModelSize is returned when a model size name is not recognised
	ErrUnknownModelSize = errors.New("unknown model size")
	// ErrShapeMismatch is returned when a state dict does not fit the model
	ErrShapeMismatch = errors.New("state dict does not match model")
)

const (
	// SizeSmall selects the fast inference configuration
	SizeSmall = "small"
	// SizeMedium selects the higher quality configuration
	SizeMedium = "medium"
)

// Config defines the topology of the restoration network
type Config struct {
	// InChannels is the number of image channels consumed and produced
	InChannels int
	// Width is the channel count after the intro convolution
	Width int
	// EncBlocks is the number of gated blocks in each encoder stage.  Each
	// stage halves resolution and doubles width after its blocks
	EncBlocks []int
	// MiddleBlocks is the number of gated blocks at the bottleneck
	MiddleBlocks int
	// DecBlocks is the number of gated blocks in each decoder stage
	DecBlocks []int
	// Expansion is the hidden channel multiplier inside a block
	Expansion int
	// NormEps is the epsilon used by the block normalisation layers
	NormEps float32
}

// SmallConfig returns the small variant tuned for fast inference
func SmallConfig() Config {
	return Config{
		InChannels:   3,
		Width:        32,
		EncBlocks:    []int{1, 1, 1, 8},
		MiddleBlocks: 1,
		DecBlocks:    []int{1, 1, 1, 1},
		Expansion:    2,
		NormEps:      1e-5,
	}
}

// MediumConfig returns the medium variant trading speed for quality
func MediumConfig() Config {
	return Config{
		InChannels:   3,
		Width:        32,
		EncBlocks:    []int{2, 2, 4, 8},
		MiddleBlocks: 12,
		DecBlocks:    []int{2, 2, 2, 2},
		Expansion:    2,
		NormEps:      1e-5,
	}
}

// ConfigFor returns the configuration for a named model size
func ConfigFor(size string) (Config, error) {

	switch strings.ToLower(size) {
	case SizeSmall:
		return SmallConfig(), nil
	case SizeMedium:
		return MediumConfig(), nil
	}

	return Config{}, fmt.Errorf("%w: %q", ErrUnknownModelSize, size)
}

// Stride returns the spatial alignment that input height and width must be a
// multiple of, 2^(number of downsampling stages)
func (c Config) Stride() int {
	return 1 << len(c.EncBlocks)
}

// Validate checks the configuration is self consistent
func (c Config) Validate() error {

	if c.InChannels < 1 || c.Width < 1 {
		return fmt.Errorf("channels and width must be positive, got %d and %d",
			c.InChannels, c.Width)
	}

	if len(c.EncBlocks) != len(c.DecBlocks) {
		return fmt.Errorf("encoder has %d stages but decoder has %d",
			len(c.EncBlocks), len(c.DecBlocks))
	}

	if c.Expansion < 1 {
		return fmt.Errorf("expansion must be positive, got %d", c.Expansion)
	}

	return nil
}
