// Package archive unpacks template library bundles.
package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/afero"
	"gitlab.com/tozd/go/errors"
)

var ErrUnsafePath = errors.Base("archive entry escapes the target directory")

// Options configures ExtractTarGz.
type Options struct {
	// StripComponents removes leading path components, like tar's --strip-components.
	StripComponents int

	// FileMode defaults to 0644.
	FileMode os.FileMode

	// DirMode defaults to 0755.
	DirMode os.FileMode

	// Filter is called with the stripped slash path of every regular file. Files it
	// rejects are skipped.
	Filter func(name string) bool
}

// IsTarGz reports whether name looks like a gzipped tarball.
func IsTarGz(name string) bool {
	return strings.HasSuffix(name, ".tar.gz") || strings.HasSuffix(name, ".tgz")
}

// ExtractTarGz unpacks the tar.gz archive in data below targetDir on fsys and returns the
// number of files written.
func ExtractTarGz(data []byte, fsys afero.Fs, targetDir string, opts Options) (int, error) {
	if opts.FileMode == 0 {
		opts.FileMode = 0o644
	}
	if opts.DirMode == 0 {
		opts.DirMode = 0o755
	}

	gzr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return 0, errors.Errorf("opening gzip stream: %w", err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	written := 0
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return written, nil
		}
		if err != nil && !errors.Is(err, tar.ErrInsecurePath) {
			return written, errors.Errorf("reading tar: %w", err)
		}

		name, ok, err := entryName(header.Name, opts.StripComponents)
		if err != nil {
			return written, err
		}
		if !ok {
			continue
		}
		target := filepath.Join(targetDir, filepath.FromSlash(name))

		switch header.Typeflag {
		case tar.TypeDir:
			if err := fsys.MkdirAll(target, opts.DirMode); err != nil {
				return written, errors.Errorf("creating directory %s: %w", target, err)
			}
		case tar.TypeReg:
			if opts.Filter != nil && !opts.Filter(name) {
				continue
			}
			if err := fsys.MkdirAll(filepath.Dir(target), opts.DirMode); err != nil {
				return written, errors.Errorf("creating directory %s: %w", filepath.Dir(target), err)
			}
			if err := writeFile(fsys, target, tr, opts.FileMode); err != nil {
				return written, err
			}
			written++
		}
	}
}

func writeFile(fsys afero.Fs, target string, r io.Reader, mode os.FileMode) error {
	f, err := fsys.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return errors.Errorf("creating file %s: %w", target, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return errors.Errorf("writing file %s: %w", target, err)
	}
	return f.Close()
}

// entryName cleans an archive entry name and strips its leading components. ok is false
// when nothing is left of it.
func entryName(raw string, strip int) (string, bool, error) {
	components := SplitPath(raw)
	if slices.Contains(components, "..") {
		return "", false, errors.Errorf("%w: %s", ErrUnsafePath, raw)
	}
	if len(components) <= strip {
		return "", false, nil
	}
	return strings.Join(components[strip:], "/"), true, nil
}

// SplitPath splits a slash separated path into its non-empty components.
func SplitPath(p string) []string {
	var components []string
	for _, c := range strings.Split(p, "/") {
		if c != "" && c != "." {
			components = append(components, c)
		}
	}
	return components
}
