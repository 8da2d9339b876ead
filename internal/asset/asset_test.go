package asset

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCanaryScript(t *testing.T, dir, body string) {
	t.Helper()

	p := filepath.Join(dir, "nodejs", "node_modules", "index.js")
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
}

func TestStage_MissingDirectory(t *testing.T) {
	_, err := Stage(filepath.Join(t.TempDir(), "missing"), "index.handler")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAssetNotFound)
}

func TestStage_FileInsteadOfDirectory(t *testing.T) {
	p := filepath.Join(t.TempDir(), "script.js")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))

	_, err := Stage(p, "index.handler")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAssetNotFound)
}

func TestStage_MissingHandler(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.js"), []byte("x"), 0o644))

	_, err := Stage(dir, "index.handler")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHandlerNotFound)
	assert.Contains(t, err.Error(), "nodejs/node_modules/index.js")
}

func TestStage_InvalidHandler(t *testing.T) {
	dir := t.TempDir()
	writeCanaryScript(t, dir, "x")

	_, err := Stage(dir, "handler")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid handler")
}

func TestStage_HashIsDeterministic(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	writeCanaryScript(t, first, "exports.handler = async () => {};")
	writeCanaryScript(t, second, "exports.handler = async () => {};")

	a, err := Stage(first, "index.handler")
	require.NoError(t, err)
	b, err := Stage(second, "index.handler")
	require.NoError(t, err)

	assert.Equal(t, a.Hash, b.Hash)
	assert.Equal(t, a.Hash+".zip", a.Key())
	assert.Len(t, a.Hash, 64)
}

func TestStage_HashChangesWithContent(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	writeCanaryScript(t, first, "v1")
	writeCanaryScript(t, second, "v2")

	a, err := Stage(first, "index.handler")
	require.NoError(t, err)
	b, err := Stage(second, "index.handler")
	require.NoError(t, err)

	assert.NotEqual(t, a.Hash, b.Hash)
}

func TestArchive(t *testing.T) {
	dir := t.TempDir()
	writeCanaryScript(t, dir, "exports.handler = async () => {};")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("notes"), 0o644))

	a, err := Stage(dir, "index.handler")
	require.NoError(t, err)
	assert.Equal(t, []string{"README", "nodejs/node_modules/index.js"}, a.Files())

	var first, second bytes.Buffer
	require.NoError(t, a.Archive(&first))
	require.NoError(t, a.Archive(&second))
	assert.Equal(t, first.Bytes(), second.Bytes())

	zr, err := zip.NewReader(bytes.NewReader(first.Bytes()), int64(first.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
	assert.Equal(t, "nodejs/node_modules/index.js", zr.File[1].Name)

	rc, err := zr.File[1].Open()
	require.NoError(t, err)
	defer rc.Close()

	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "exports.handler = async () => {};", string(body))
}
