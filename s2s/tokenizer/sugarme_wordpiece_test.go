package tokenizer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSugarWordPieceAgreesWithVocab checks that the sugarme-backed tokenizer
// and the radix Vocab agree on simple in-vocabulary text.
func TestSugarWordPieceAgreesWithVocab(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "s2s-sugarme-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "vocab.txt"), []byte(strings.Join(testTokens, "\n")), 0o644))

	swp, err := NewSugarWordPiece(tempDir, false, nil)
	require.NoError(t, err)
	v := newTestVocab(t)

	for _, text := range []string{"the cat sat", " Content:", "the [MASK] cat"} {
		want, err := v.Encode(text)
		require.NoError(t, err)
		got, err := swp.Encode(text)
		require.NoError(t, err)
		assert.Equal(t, want, got, "text %q", text)
	}

	id, ok := swp.SpecialID(ENC)
	assert.True(t, ok)
	assert.Equal(t, 2, id)

	_, ok = swp.SpecialID("unknown-name")
	assert.False(t, ok)
}

func TestSugarWordPieceMissingVocab(t *testing.T) {
	_, err := NewSugarWordPiece("/nonexistent/vocab.txt", true, nil)
	assert.ErrorIs(t, err, ErrUnsupported)
}
