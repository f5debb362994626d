package train

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/swdee/go-wagonocr/preprocess"
	"github.com/swdee/go-wagonocr/tensor"
)

// Batch is a stacked set of aligned training pairs
type Batch struct {
	// Blur and Sharp are [N,3,P,P] tensors in [-1,1]
	Blur  *tensor.Tensor
	Sharp *tensor.Tensor
	Names []string
}

// Loader iterates a dataset in batches.  Training loaders shuffle every
// epoch and apply random augmentation, validation loaders keep dataset order
// and centre crop.
type Loader struct {
	ds        *PairedDataset
	aug       *Augmenter
	batchSize int
	train     bool
	rng       *rand.Rand
}

// NewLoader returns a loader over ds
func NewLoader(ds *PairedDataset, aug *Augmenter, batchSize int, train bool, seed uint64) *Loader {

	if batchSize <= 0 {
		batchSize = 1
	}

	return &Loader{
		ds:        ds,
		aug:       aug,
		batchSize: batchSize,
		train:     train,
		rng:       rand.New(rand.NewPCG(seed, seed+7)),
	}
}

// Len returns the number of batches per epoch
func (l *Loader) Len() int {
	return (l.ds.Len() + l.batchSize - 1) / l.batchSize
}

// order returns the index order for one epoch
func (l *Loader) order() []int {

	if l.train {
		return l.rng.Perm(l.ds.Len())
	}

	idx := make([]int, l.ds.Len())

	for i := range idx {
		idx[i] = i
	}

	return idx
}

// load builds the batch for the given dataset indices
func (l *Loader) load(indices []int) (Batch, error) {

	blurs := make([]*tensor.Tensor, 0, len(indices))
	sharps := make([]*tensor.Tensor, 0, len(indices))
	names := make([]string, 0, len(indices))

	for _, i := range indices {
		bi, si := l.ds.Load(i, l.aug.Patch)

		b, err := preprocess.ImageToTensor(bi)

		if err != nil {
			return Batch{}, fmt.Errorf("error converting %s: %w", l.ds.Pair(i).Name, err)
		}

		s, err := preprocess.ImageToTensor(si)

		if err != nil {
			return Batch{}, fmt.Errorf("error converting %s: %w", l.ds.Pair(i).Name, err)
		}

		if l.train {
			b, s = l.aug.Train(b, s)
		} else {
			b, s = l.aug.Validate(b, s)
		}

		blurs = append(blurs, b)
		sharps = append(sharps, s)
		names = append(names, l.ds.Pair(i).Name)
	}

	blur, err := tensor.Stack(blurs)

	if err != nil {
		return Batch{}, err
	}

	sharp, err := tensor.Stack(sharps)

	if err != nil {
		return Batch{}, err
	}

	return Batch{Blur: blur, Sharp: sharp, Names: names}, nil
}

type loaded struct {
	batch Batch
	err   error
}

// Each calls fn for every batch of one epoch.  The next batch is decoded in a
// background goroutine while fn runs.  Iteration stops on the first error or
// when ctx is cancelled.
func (l *Loader) Each(ctx context.Context, fn func(Batch) error) error {

	order := l.order()
	ch := make(chan loaded, 1)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		defer close(ch)

		for start := 0; start < len(order); start += l.batchSize {
			end := min(start+l.batchSize, len(order))
			b, err := l.load(order[start:end])

			select {
			case ch <- loaded{batch: b, err: err}:
			case <-ctx.Done():
				return
			}

			if err != nil {
				return
			}
		}
	}()

	for item := range ch {
		if err := ctx.Err(); err != nil {
			return err
		}

		if item.err != nil {
			return item.err
		}

		if err := fn(item.batch); err != nil {
			return err
		}
	}

	return ctx.Err()
}
