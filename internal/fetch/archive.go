package fetch

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bodgit/sevenzip"
	"github.com/xi2/xz"

	"provision-host/internal/logger"
)

// Extract unpacks src into dest and returns the path of the archive's
// top-level entry (a directory for most release archives, a single file for
// bare-binary ones). The format is chosen by file extension.
func Extract(src, dest string) (string, error) {
	switch {
	case strings.HasSuffix(src, ".zip"):
		return extractZip(src, dest)
	case strings.HasSuffix(src, ".7z"):
		return extract7z(src, dest)
	case strings.HasSuffix(src, ".tar"), strings.HasSuffix(src, ".tar.gz"), strings.HasSuffix(src, ".tgz"),
		strings.HasSuffix(src, ".tar.bz2"), strings.HasSuffix(src, ".tar.xz"):
		return extractTar(src, dest)
	default:
		return "", fmt.Errorf("unsupported archive format: %s", src)
	}
}

// extractTar handles plain and compressed tar variants.
func extractTar(src, dest string) (string, error) {
	logger.Debug("[DEBUG] Extracting %s to %s\n", src, dest)
	f, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var reader io.Reader = f
	switch {
	case strings.HasSuffix(src, ".tar.gz"), strings.HasSuffix(src, ".tgz"):
		gr, err := gzip.NewReader(f)
		if err != nil {
			return "", err
		}
		defer gr.Close()
		reader = gr
	case strings.HasSuffix(src, ".tar.bz2"):
		reader = bzip2.NewReader(f)
	case strings.HasSuffix(src, ".tar.xz"):
		xzr, err := xz.NewReader(f, 0)
		if err != nil {
			return "", err
		}
		reader = xzr
	}

	tr := tar.NewReader(reader)
	var top string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		target, err := secureJoin(dest, hdr.Name)
		if err != nil {
			return "", err
		}
		if top == "" {
			top = topLevel(hdr.Name)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return "", err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, os.FileMode(hdr.Mode)); err != nil {
				return "", err
			}
		}
	}
	return filepath.Join(dest, top), nil
}

func extractZip(src, dest string) (string, error) {
	r, err := zip.OpenReader(src)
	if err != nil {
		return "", err
	}
	defer r.Close()

	var top string
	for _, f := range r.File {
		target, err := secureJoin(dest, f.Name)
		if err != nil {
			return "", err
		}
		if top == "" {
			top = topLevel(f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return "", err
			}
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", err
		}
		err = writeFile(target, rc, f.Mode())
		rc.Close()
		if err != nil {
			return "", err
		}
	}
	return filepath.Join(dest, top), nil
}

func extract7z(src, dest string) (string, error) {
	r, err := sevenzip.OpenReader(src)
	if err != nil {
		return "", fmt.Errorf("failed to open 7z archive: %w", err)
	}
	defer r.Close()

	var top string
	for _, f := range r.File {
		target, err := secureJoin(dest, f.Name)
		if err != nil {
			return "", err
		}
		if top == "" {
			top = topLevel(f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return "", err
			}
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", err
		}
		err = writeFile(target, rc, f.Mode())
		rc.Close()
		if err != nil {
			return "", err
		}
	}
	return filepath.Join(dest, top), nil
}

// secureJoin joins an archive member name onto dest, rejecting entries that
// would escape it.
func secureJoin(dest, name string) (string, error) {
	target := filepath.Join(dest, name)
	if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry %q escapes extraction directory", name)
	}
	return target, nil
}

// topLevel returns the first path element of an archive member name.
func topLevel(name string) string {
	name = filepath.ToSlash(name)
	if head, _, ok := strings.Cut(name, "/"); ok {
		return head
	}
	return name
}

// writeFile creates target's parent directories and streams r into it. File
// mode is preserved but always regular-file sane.
func writeFile(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	perm := mode.Perm()
	if perm == 0 {
		perm = 0644
	}
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
