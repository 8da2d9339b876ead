// Package asset stages the canary code directory for upload.
package asset

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
)

var (
	// ErrAssetNotFound indicates the asset directory does not exist.
	ErrAssetNotFound = errors.New("asset directory not found")
	// ErrHandlerNotFound indicates the handler file is missing from the asset.
	ErrHandlerNotFound = errors.New("canary handler not found in asset")
)

// Node.js canary runtimes load handlers from this prefix inside the bundle.
const nodeModulesPrefix = "nodejs/node_modules"

// Zip entries carry a fixed timestamp so archives depend only on content.
var epoch = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// Asset is a validated, fingerprinted code directory.
type Asset struct {
	Dir     string
	Handler string
	Hash    string

	files []string
}

// Stage validates dir for the given handler (e.g. "index.handler") and
// fingerprints its contents. Identical contents always yield the same hash.
func Stage(dir, handler string) (*Asset, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, dir)
		}
		return nil, fmt.Errorf("cannot stat asset %q: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrAssetNotFound, dir)
	}

	entry, err := handlerFile(handler)
	if err != nil {
		return nil, err
	}

	files, err := listFiles(dir)
	if err != nil {
		return nil, err
	}

	if !slices.Contains(files, entry) {
		return nil, fmt.Errorf("%w: expected %s under %s", ErrHandlerNotFound, entry, dir)
	}

	hash, err := fingerprint(dir, files)
	if err != nil {
		return nil, err
	}

	return &Asset{
		Dir:     dir,
		Handler: handler,
		Hash:    hash,
		files:   files,
	}, nil
}

// Key is the object key the archive is uploaded under.
func (a *Asset) Key() string {
	return a.Hash + ".zip"
}

// Files returns the slash-separated relative paths included in the asset.
func (a *Asset) Files() []string {
	return slices.Clone(a.files)
}

// Archive writes the asset as a zip archive to w.
func (a *Asset) Archive(w io.Writer) error {
	zw := zip.NewWriter(w)

	for _, name := range a.files {
		header := &zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: epoch,
		}
		header.SetMode(0o644)

		fw, err := zw.CreateHeader(header)
		if err != nil {
			return fmt.Errorf("cannot add %s to archive: %w", name, err)
		}

		if err := copyFile(fw, filepath.Join(a.Dir, filepath.FromSlash(name))); err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("cannot finalize archive: %w", err)
	}

	return nil
}

func handlerFile(handler string) (string, error) {
	module, _, ok := strings.Cut(handler, ".")
	if !ok || module == "" {
		return "", fmt.Errorf("invalid handler %q: expected <file>.<function>", handler)
	}
	return path.Join(nodeModulesPrefix, module+".js"), nil
}

func listFiles(dir string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cannot walk asset %q: %w", dir, err)
	}

	slices.Sort(files)
	return files, nil
}

func fingerprint(dir string, files []string) (string, error) {
	h := sha256.New()

	for _, name := range files {
		// Length-prefix the name so path/content boundaries stay unambiguous.
		fmt.Fprintf(h, "%d:%s\n", len(name), name)
		if err := copyFile(h, filepath.Join(dir, filepath.FromSlash(name))); err != nil {
			return "", err
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func copyFile(w io.Writer, name string) error {
	f, err := os.Open(name)
	if err != nil {
		return fmt.Errorf("cannot open %s: %w", name, err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("cannot read %s: %w", name, err)
	}
	return nil
}
