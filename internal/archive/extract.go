// Package archive unpacks fetched source archives into a build working
// directory. Every entry is checked against the destination so a hostile
// archive cannot write outside it.
package archive

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"

	"github.com/bianoble/formulary/internal/sandbox"
)

// Format identifies an archive layout.
type Format string

const (
	FormatTarGz  Format = "tar.gz"
	FormatTarZst Format = "tar.zst"
	FormatTar    Format = "tar"
	FormatZip    Format = "zip"
	// FormatFile means the artifact is used as-is (a single file source).
	FormatFile Format = "file"
)

// Detect picks the format from the file name.
func Detect(name string) Format {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FormatTarGz
	case strings.HasSuffix(lower, ".tar.zst"), strings.HasSuffix(lower, ".tzst"):
		return FormatTarZst
	case strings.HasSuffix(lower, ".tar"):
		return FormatTar
	case strings.HasSuffix(lower, ".zip"):
		return FormatZip
	}
	return FormatFile
}

// Extract unpacks src into dest (created if missing) and returns the source
// root: dest itself, or its only top-level directory when the archive wraps
// everything in one (as release tarballs usually do).
func Extract(ctx context.Context, src, dest string) (string, error) {
	if err := os.MkdirAll(dest, 0755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dest, err)
	}

	var err error
	switch Detect(src) {
	case FormatTarGz:
		err = extractTarGz(ctx, src, dest)
	case FormatTarZst:
		err = extractTarZst(ctx, src, dest)
	case FormatTar:
		err = withFile(src, func(f *os.File) error { return extractTar(ctx, f, dest) })
	case FormatZip:
		err = extractZip(ctx, src, dest)
	default:
		err = copyPlain(src, dest)
	}
	if err != nil {
		return "", fmt.Errorf("extracting %s: %w", filepath.Base(src), err)
	}
	return sourceRoot(dest)
}

// copyPlain places a single non-archive download in dest. An executable
// source stays executable so recipes can run it directly.
func copyPlain(src, dest string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	perm := os.FileMode(0644)
	if info.Mode().Perm()&0111 != 0 {
		perm = 0755
	}
	return sandbox.SafeCopy(dest, filepath.Base(src), src, perm)
}

func withFile(path string, fn func(*os.File) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return fn(f)
}

func extractTarGz(ctx context.Context, src, dest string) error {
	return withFile(src, func(f *os.File) error {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("opening gzip stream: %w", err)
		}
		defer gz.Close()
		return extractTar(ctx, gz, dest)
	})
}

func extractTarZst(ctx context.Context, src, dest string) error {
	return withFile(src, func(f *os.File) error {
		zr, err := zstd.NewReader(f)
		if err != nil {
			return fmt.Errorf("opening zstd stream: %w", err)
		}
		defer zr.Close()
		return extractTar(ctx, zr, dest)
	})
}

func extractTar(ctx context.Context, r io.Reader, dest string) error {
	tr := tar.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tar entry: %w", err)
		}

		target, err := sandbox.ValidatePath(dest, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, dirMode(hdr.FileInfo().Mode())); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, hdr.FileInfo().Mode()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := checkLink(dest, target, hdr.Linkname); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return fmt.Errorf("creating symlink %s: %w", hdr.Name, err)
			}
		case tar.TypeLink:
			linkTarget, err := sandbox.ValidatePath(dest, hdr.Linkname)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			if err := os.Link(linkTarget, target); err != nil {
				return fmt.Errorf("creating hard link %s: %w", hdr.Name, err)
			}
		default:
			// Devices, fifos and pax metadata entries carry nothing a build needs.
		}
	}
}

func extractZip(ctx context.Context, src, dest string) error {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("opening zip: %w", err)
	}
	defer zr.Close()

	for _, zf := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		target, err := sandbox.ValidatePath(dest, zf.Name)
		if err != nil {
			return err
		}
		mode := zf.Mode()
		if mode.IsDir() {
			if err := os.MkdirAll(target, dirMode(mode)); err != nil {
				return err
			}
			continue
		}
		if mode&os.ModeSymlink != 0 {
			// Zip symlinks are rare in source releases and ambiguous across tools.
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return fmt.Errorf("opening %s: %w", zf.Name, err)
		}
		err = writeFile(target, rc, mode)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func writeFile(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	perm := mode.Perm()
	if perm == 0 {
		perm = 0644
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", target, err)
	}
	return f.Close()
}

// checkLink rejects symlinks whose target would resolve outside dest.
func checkLink(dest, linkPath, linkname string) error {
	if filepath.IsAbs(linkname) {
		return fmt.Errorf("symlink %s points to absolute path %s", linkPath, linkname)
	}
	absDest, err := filepath.EvalSymlinks(dest)
	if err != nil {
		return err
	}
	resolved := filepath.Clean(filepath.Join(filepath.Dir(linkPath), linkname))
	if !sandbox.Within(absDest, resolved) {
		return fmt.Errorf("symlink %s escapes the extraction directory", linkPath)
	}
	return nil
}

func dirMode(mode os.FileMode) os.FileMode {
	perm := mode.Perm() | 0700
	return perm
}

func sourceRoot(dest string) (string, error) {
	entries, err := os.ReadDir(dest)
	if err != nil {
		return "", err
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(dest, entries[0].Name()), nil
	}
	return dest, nil
}
