package dataset

import (
	"context"
	"fmt"
	"sync/atomic"

	internal "github.com/ZanzyTHEbar/seq2seq-encoder/s2s"
	"github.com/ZanzyTHEbar/seq2seq-encoder/s2s/encoder"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
)

// Example is the raw pair behind a sample, kept for evaluation. Source and
// Target are already normalized.
type Example struct {
	ID        string
	Source    string
	Target    string
	Reference string
}

// Dataset is an immutable, indexable collection of encoded samples.
type Dataset struct {
	split    string
	samples  []encoder.Sample
	examples []Example
	byID     map[string]int
	stats    *Stats
}

// New assembles a dataset from already encoded samples, e.g. ones reloaded
// from a store. examples may be nil.
func New(split string, samples []encoder.Sample, examples []Example) *Dataset {
	d := &Dataset{
		split:    split,
		samples:  samples,
		examples: examples,
		byID:     make(map[string]int, len(examples)),
	}
	for i, ex := range examples {
		d.byID[ex.ID] = i
	}
	return d
}

func (d *Dataset) Split() string { return d.split }

func (d *Dataset) Len() int { return len(d.samples) }

// Get returns the sample at index i. Its arrays are shared with the dataset
// and must be treated as read-only; use Sample.Clone to modify one.
func (d *Dataset) Get(i int) (encoder.Sample, error) {
	if i < 0 || i >= len(d.samples) {
		return encoder.Sample{}, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, i, len(d.samples))
	}
	return d.samples[i], nil
}

// Samples returns copies of the encoded samples in input order.
func (d *Dataset) Samples() []encoder.Sample {
	out := make([]encoder.Sample, len(d.samples))
	for i, s := range d.samples {
		out[i] = s.Clone()
	}
	return out
}

// Example looks up the raw example behind a sample id.
func (d *Dataset) Example(id string) (Example, bool) {
	i, ok := d.byID[id]
	if !ok {
		return Example{}, false
	}
	return d.examples[i], true
}

// Examples returns the raw examples in sample order.
func (d *Dataset) Examples() []Example { return d.examples }

// Stats is nil for datasets assembled with New.
func (d *Dataset) Stats() *Stats { return d.stats }

type buildOptions struct {
	logger        zerolog.Logger
	workers       int
	progressEvery int
}

// Option configures Build.
type Option func(*buildOptions)

// WithLogger sets the logger for progress and summary lines.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *buildOptions) { o.logger = logger }
}

// WithWorkers encodes with up to n goroutines. n <= 1 encodes sequentially.
func WithWorkers(n int) Option {
	return func(o *buildOptions) { o.workers = n }
}

// WithProgressEvery logs a progress line every n examples (0 disables).
func WithProgressEvery(n int) Option {
	return func(o *buildOptions) { o.progressEvery = n }
}

// Build reads the split files from dir and encodes every pair.
func Build(ctx context.Context, enc *encoder.Encoder, dir, split string, opts ...Option) (*Dataset, error) {
	sources, targets, err := ReadPairs(dir, split)
	if err != nil {
		return nil, err
	}
	return BuildFromPairs(ctx, enc, split, sources, targets, opts...)
}

// BuildFromPairs encodes line-aligned raw sources and targets. Any error
// aborts the whole pass.
func BuildFromPairs(ctx context.Context, enc *encoder.Encoder, split string, sources, targets []string, opts ...Option) (*Dataset, error) {
	if _, err := SplitFileName(split); err != nil {
		return nil, err
	}
	if len(sources) != len(targets) {
		return nil, fmt.Errorf("%w: %d sources, %d targets", ErrLineCountMismatch, len(sources), len(targets))
	}

	o := buildOptions{
		logger:        zerolog.Nop(),
		workers:       1,
		progressEvery: internal.ProgressEvery,
	}
	for _, opt := range opts {
		opt(&o)
	}

	o.logger.Info().Str("split", split).Int("examples", len(sources)).Int("workers", o.workers).Msg("Creating dataset")

	n := len(sources)
	results := make([]encoder.Result, n)
	examples := make([]Example, n)
	var done atomic.Int64

	encodeOne := func(i int) error {
		id := fmt.Sprintf("%s-%d", split, i)
		src, tgt := enc.Normalize(sources[i], targets[i])
		ref, err := enc.Reference(tgt)
		if err != nil {
			return fmt.Errorf("example %s: failed to build reference: %w", id, err)
		}
		res, err := enc.Encode(id, src, tgt)
		if err != nil {
			return err
		}
		results[i] = res
		examples[i] = Example{ID: id, Source: src, Target: tgt, Reference: ref}

		if c := done.Add(1); o.progressEvery > 0 && c%int64(o.progressEvery) == 0 {
			o.logger.Info().Str("split", split).Int64("completed", c).Msg("Encoding progress")
		}
		return nil
	}

	if o.workers <= 1 {
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := encodeOne(i); err != nil {
				return nil, err
			}
		}
	} else {
		p := pool.New().WithMaxGoroutines(o.workers).WithContext(ctx).WithCancelOnError()
		for i := 0; i < n; i++ {
			p.Go(func(ctx context.Context) error {
				if err := ctx.Err(); err != nil {
					return err
				}
				return encodeOne(i)
			})
		}
		if err := p.Wait(); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	samples := make([]encoder.Sample, n)
	for i := range results {
		samples[i] = results[i].Sample
	}
	d := New(split, samples, examples)
	d.stats = collectStats(split, enc.Config().Mode, results)

	o.logger.Info().
		Str("split", split).
		Int("examples", d.Len()).
		Int("source_truncated", d.stats.NumSourceTruncated()).
		Int("target_truncated", d.stats.NumTargetTruncated()).
		Int("empty_source", d.stats.NumEmptySource()).
		Msg("Dataset ready")

	return d, nil
}
