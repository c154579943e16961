package workspace

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/texbuilder/internal/foundation/errors"
)

func buildZip(t *testing.T, files map[string]string, dirs ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, d := range dirs {
		_, err := zw.Create(d)
		require.NoError(t, err)
	}
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestDeltaFromZip(t *testing.T) {
	data := buildZip(t, map[string]string{
		"main.tex":         `\documentclass{article}`,
		"chapters/one.tex": "one",
	}, "chapters/")

	delta, err := DeltaFromZip(bytes.NewReader(data), int64(len(data)), 0)
	require.NoError(t, err)
	require.Len(t, delta.Upserts, 2)
	assert.Empty(t, delta.Deletions)

	got := map[string]string{}
	for _, f := range delta.Upserts {
		assert.Equal(t, EncodingRaw, f.Encoding)
		got[f.Path] = f.Content
	}
	assert.Equal(t, "one", got["chapters/one.tex"])
}

func TestDeltaFromZipEmptyArchive(t *testing.T) {
	data := buildZip(t, nil)
	require.LessOrEqual(t, len(data), emptyZipSize)

	delta, err := DeltaFromZip(bytes.NewReader(data), int64(len(data)), 0)
	require.NoError(t, err)
	assert.True(t, delta.IsEmpty())
}

func TestDeltaFromZipRejects(t *testing.T) {
	t.Run("traversal entry", func(t *testing.T) {
		data := buildZip(t, map[string]string{"../evil.tex": "x"})
		_, err := DeltaFromZip(bytes.NewReader(data), int64(len(data)), 0)
		assert.True(t, errors.HasCategory(err, errors.CategoryValidation))
	})
	t.Run("not a zip", func(t *testing.T) {
		data := bytes.Repeat([]byte("x"), 100)
		_, err := DeltaFromZip(bytes.NewReader(data), int64(len(data)), 0)
		assert.True(t, errors.HasCategory(err, errors.CategoryValidation))
	})
	t.Run("size limit", func(t *testing.T) {
		data := buildZip(t, map[string]string{"big.tex": string(bytes.Repeat([]byte("a"), 4096))})
		_, err := DeltaFromZip(bytes.NewReader(data), int64(len(data)), 1024)
		assert.True(t, errors.HasCategory(err, errors.CategoryTooLarge))
	})
}
