package store

import (
	"errors"
	"time"

	"github.com/ZanzyTHEbar/seq2seq-encoder/s2s/dataset"
	"github.com/ZanzyTHEbar/seq2seq-encoder/s2s/encoder"

	"github.com/google/uuid"
)

var (
	ErrBadMagic        = errors.New("not a sample snapshot")
	ErrBadVersion      = errors.New("unsupported snapshot version")
	ErrCorruptSnapshot = errors.New("corrupt snapshot")
	ErrMixedShapes     = errors.New("samples do not share one shape")
	ErrRunNotFound     = errors.New("run not found")
)

// Manifest describes one persisted encoding run.
type Manifest struct {
	ID              uuid.UUID
	Split           string
	Task            string
	Mode            encoder.Mode
	MaskKind        encoder.MaskKind
	MaxSourceLength int
	MaxTargetLength int
	NumSamples      int
	SourceTruncated int
	TargetTruncated int
	CreatedAt       time.Time
}

// NewManifest describes d as encoded under cfg. A fresh run id is assigned.
func NewManifest(d *dataset.Dataset, cfg encoder.Config, task string) Manifest {
	m := Manifest{
		ID:              uuid.New(),
		Split:           d.Split(),
		Task:            task,
		Mode:            cfg.Mode,
		MaskKind:        cfg.MaskKind,
		MaxSourceLength: cfg.MaxSourceLength,
		MaxTargetLength: cfg.MaxTargetLength,
		NumSamples:      d.Len(),
		CreatedAt:       time.Now().UTC(),
	}
	if st := d.Stats(); st != nil {
		m.SourceTruncated = st.NumSourceTruncated()
		m.TargetTruncated = st.NumTargetTruncated()
	}
	return m
}
