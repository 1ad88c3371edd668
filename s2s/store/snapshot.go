package store

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/ZanzyTHEbar/seq2seq-encoder/s2s/encoder"
)

const (
	snapshotMagic   = "S2SN"
	snapshotVersion = 1
	flagHasTarget   = 1 << 0

	maxSnapshotSeqLen = 1 << 20
	maxSnapshotIDLen  = 1 << 16
	// preallocation cap; larger snapshots grow by append
	maxSnapshotPrealloc = 1 << 16
)

// PersistSnapshot writes samples to path in a versioned little-endian format:
//
//	['S2SN'] [u32 version] [u32 flags] [u64 n] [u64 seqLen]
//	per sample: [u32 idLen] [id] [i64 boundary] tokens [target lossMask] abs block
//
// Every array is seqLen int64 values. All samples must share seqLen and mode.
func PersistSnapshot(path string, samples []encoder.Sample) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteSnapshot(f, samples); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteSnapshot is PersistSnapshot over an arbitrary writer.
func WriteSnapshot(w io.Writer, samples []encoder.Sample) error {
	var seqLen int
	var flags uint32
	if len(samples) > 0 {
		seqLen = len(samples[0].Tokens)
		if samples[0].HasTarget() {
			flags |= flagHasTarget
		}
	}
	for _, s := range samples {
		if err := checkShape(s, seqLen, flags&flagHasTarget != 0); err != nil {
			return err
		}
	}

	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(snapshotMagic); err != nil {
		return err
	}
	header := []any{uint32(snapshotVersion), flags, uint64(len(samples)), uint64(seqLen)}
	for _, v := range header {
		if err := binary.Write(bw, binary.LittleEndian, v); err != nil {
			return err
		}
	}

	for _, s := range samples {
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(s.ID))); err != nil {
			return err
		}
		if _, err := bw.WriteString(s.ID); err != nil {
			return err
		}
		cols := []any{s.AttentionBoundary, s.Tokens}
		if flags&flagHasTarget != 0 {
			cols = append(cols, s.Target, s.LossMask)
		}
		cols = append(cols, s.PositionIDs.Absolute, s.PositionIDs.BlockRelative)
		for _, c := range cols {
			if err := binary.Write(bw, binary.LittleEndian, c); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

// LoadSnapshot reads a snapshot persisted with PersistSnapshot.
func LoadSnapshot(path string) ([]encoder.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadSnapshot(f)
}

// ReadSnapshot is LoadSnapshot over an arbitrary reader.
func ReadSnapshot(r io.Reader) ([]encoder.Sample, error) {
	br := bufio.NewReader(r)
	magic := make([]byte, len(snapshotMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, err
	}
	if string(magic) != snapshotMagic {
		return nil, ErrBadMagic
	}

	var (
		ver, flags uint32
		n, seqLen  uint64
	)
	for _, v := range []any{&ver, &flags, &n, &seqLen} {
		if err := binary.Read(br, binary.LittleEndian, v); err != nil {
			return nil, err
		}
	}
	if ver != snapshotVersion {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, ver)
	}
	if seqLen > maxSnapshotSeqLen {
		return nil, fmt.Errorf("%w: sequence length %d", ErrCorruptSnapshot, seqLen)
	}
	hasTarget := flags&flagHasTarget != 0

	readCol := func() ([]int64, error) {
		col := make([]int64, seqLen)
		if err := binary.Read(br, binary.LittleEndian, col); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorruptSnapshot, err)
		}
		return col, nil
	}

	samples := make([]encoder.Sample, 0, min(n, maxSnapshotPrealloc))
	for i := uint64(0); i < n; i++ {
		var idLen uint32
		if err := binary.Read(br, binary.LittleEndian, &idLen); err != nil {
			return nil, fmt.Errorf("%w: sample %d of %d: %w", ErrCorruptSnapshot, i, n, err)
		}
		if idLen > maxSnapshotIDLen {
			return nil, fmt.Errorf("%w: sample %d id length %d", ErrCorruptSnapshot, i, idLen)
		}
		id := make([]byte, idLen)
		if _, err := io.ReadFull(br, id); err != nil {
			return nil, err
		}
		s := encoder.Sample{ID: string(id)}
		if err := binary.Read(br, binary.LittleEndian, &s.AttentionBoundary); err != nil {
			return nil, err
		}
		var err error
		if s.Tokens, err = readCol(); err != nil {
			return nil, err
		}
		if hasTarget {
			if s.Target, err = readCol(); err != nil {
				return nil, err
			}
			if s.LossMask, err = readCol(); err != nil {
				return nil, err
			}
		}
		if s.PositionIDs.Absolute, err = readCol(); err != nil {
			return nil, err
		}
		if s.PositionIDs.BlockRelative, err = readCol(); err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	return samples, nil
}

func checkShape(s encoder.Sample, seqLen int, hasTarget bool) error {
	if len(s.Tokens) != seqLen ||
		len(s.PositionIDs.Absolute) != seqLen ||
		len(s.PositionIDs.BlockRelative) != seqLen ||
		s.HasTarget() != hasTarget {
		return fmt.Errorf("%w: sample %s", ErrMixedShapes, s.ID)
	}
	if hasTarget && (len(s.Target) != seqLen || len(s.LossMask) != seqLen) {
		return fmt.Errorf("%w: sample %s", ErrMixedShapes, s.ID)
	}
	return nil
}
