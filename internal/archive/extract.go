package archive

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/quantmind-br/hpkg/internal/core"
	"github.com/quantmind-br/hpkg/internal/security"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// Options controls how an artifact is applied to the install root
type Options struct {
	// Overwrite replaces regular files that already exist under the root
	Overwrite bool
}

// Extractor unpacks zstd-compressed tar artifacts onto a filesystem
type Extractor struct {
	fs  afero.Fs
	log *zerolog.Logger
}

// NewExtractor creates an extractor writing through fs
func NewExtractor(fs afero.Fs, log *zerolog.Logger) *Extractor {
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	return &Extractor{fs: fs, log: log}
}

// Extract unpacks archivePath under root and returns every path it wrote,
// relative to root and in the order written. On failure the paths written so
// far are returned together with the error so the caller can undo them.
func (e *Extractor) Extract(ctx context.Context, archivePath, root string, opts Options) ([]core.InstalledFile, error) {
	f, err := e.fs.Open(archivePath)
	if err != nil {
		return nil, core.NewError(core.ErrIO, "open artifact", archivePath, err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, core.NewError(core.ErrIntegrityCorrupt, "open artifact", archivePath, err)
	}
	defer zr.Close()

	if err := e.fs.MkdirAll(root, 0755); err != nil {
		return nil, core.NewError(core.ErrIO, "create install root", root, err)
	}

	return e.extractTar(ctx, zr, root, opts)
}

func (e *Extractor) extractTar(ctx context.Context, r io.Reader, root string, opts Options) ([]core.InstalledFile, error) {
	tr := tar.NewReader(r)
	var written []core.InstalledFile

	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return written, core.NewError(core.ErrIntegrityCorrupt, "read artifact", "", err)
		}

		// Security: reject traversal, absolute names and null bytes
		if err := security.ValidateExtractPath(root, header.Name); err != nil {
			return written, core.NewError(core.ErrIntegrityCorrupt, "validate entry", header.Name, err)
		}

		rel := filepath.Clean(strings.TrimPrefix(header.Name, "./"))
		if rel == "." {
			continue
		}
		target := filepath.Join(root, rel)

		parents, err := e.mkdirParents(root, rel)
		written = append(written, parents...)
		if err != nil {
			return written, err
		}

		var entry *core.InstalledFile
		switch header.Typeflag {
		case tar.TypeDir:
			entry, err = e.extractDir(target, rel, header)
		case tar.TypeReg:
			entry, err = e.extractFile(tr, target, rel, header, opts)
		case tar.TypeSymlink:
			// Security: symlinks must resolve inside the root
			if verr := security.ValidateSymlink(root, target, header.Linkname); verr != nil {
				return written, core.NewError(core.ErrIntegrityCorrupt, "validate symlink", header.Name, verr)
			}
			entry, err = e.extractSymlink(target, rel, header, opts)
		case tar.TypeLink:
			if verr := security.ValidateExtractPath(root, header.Linkname); verr != nil {
				return written, core.NewError(core.ErrIntegrityCorrupt, "validate hard link", header.Name, verr)
			}
			entry, err = e.extractHardLink(filepath.Join(root, header.Linkname), target, rel, header, opts)
		default:
			// Skip unsupported types (TypeBlock, TypeChar, TypeFifo, etc.)
			e.log.Debug().Str("entry", header.Name).Msg("skipping unsupported archive entry")
			continue
		}

		if entry != nil {
			written = append(written, *entry)
		}
		if err != nil {
			return written, err
		}
	}

	return written, nil
}

// mkdirParents creates the missing parent directories of rel and reports the
// ones it created, outermost first.
func (e *Extractor) mkdirParents(root, rel string) ([]core.InstalledFile, error) {
	var missing []string
	for dir := filepath.Dir(rel); dir != "." && dir != string(filepath.Separator); dir = filepath.Dir(dir) {
		if _, err := e.fs.Stat(filepath.Join(root, dir)); err == nil {
			break
		}
		missing = append(missing, dir)
	}

	var created []core.InstalledFile
	for i := len(missing) - 1; i >= 0; i-- {
		if err := e.fs.Mkdir(filepath.Join(root, missing[i]), 0755); err != nil && !os.IsExist(err) {
			return created, core.NewError(core.ErrIO, "create directory", missing[i], err)
		}
		created = append(created, core.InstalledFile{Path: missing[i], Permissions: 0755, IsDir: true})
	}
	return created, nil
}

func (e *Extractor) extractDir(target, rel string, header *tar.Header) (*core.InstalledFile, error) {
	mode := os.FileMode(header.Mode).Perm()
	if info, err := e.fs.Stat(target); err == nil {
		if !info.IsDir() {
			return nil, core.NewError(core.ErrIO, "create directory", rel, fmt.Errorf("a non-directory exists at this path"))
		}
		// pre-existing directories are not recorded
		return nil, nil
	}
	if err := e.fs.MkdirAll(target, mode); err != nil {
		return nil, core.NewError(core.ErrIO, "create directory", rel, err)
	}
	return &core.InstalledFile{Path: rel, Permissions: uint32(mode), IsDir: true}, nil
}

func (e *Extractor) extractFile(r io.Reader, target, rel string, header *tar.Header, opts Options) (*core.InstalledFile, error) {
	if err := e.checkExisting(target, rel, opts); err != nil {
		return nil, err
	}

	mode := os.FileMode(header.Mode).Perm()
	f, err := e.fs.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return nil, core.NewError(core.ErrIO, "create file", rel, err)
	}

	// recorded before the copy so a partial write is still rolled back
	entry := &core.InstalledFile{Path: rel, Permissions: uint32(mode)}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return entry, core.NewError(core.ErrIO, "write file", rel, err)
	}

	// umask may have narrowed the mode on create
	if err := e.fs.Chmod(target, mode); err != nil {
		return entry, core.NewError(core.ErrIO, "chmod", rel, err)
	}

	entry.Size = n
	entry.Checksum = hex.EncodeToString(h.Sum(nil))
	return entry, nil
}

func (e *Extractor) extractSymlink(target, rel string, header *tar.Header, opts Options) (*core.InstalledFile, error) {
	linker, ok := e.fs.(afero.Linker)
	if !ok {
		return nil, core.NewError(core.ErrIO, "create symlink", rel, errors.New("filesystem does not support symlinks"))
	}
	if err := e.checkExisting(target, rel, opts); err != nil {
		return nil, err
	}
	if err := linker.SymlinkIfPossible(header.Linkname, target); err != nil {
		return nil, core.NewError(core.ErrIO, "create symlink", rel, err)
	}
	return &core.InstalledFile{Path: rel, Permissions: 0777}, nil
}

// extractHardLink materializes a hard link as a copy of its target, which
// must already have been extracted.
func (e *Extractor) extractHardLink(source, target, rel string, header *tar.Header, opts Options) (*core.InstalledFile, error) {
	src, err := e.fs.Open(source)
	if err != nil {
		return nil, core.NewError(core.ErrIntegrityCorrupt, "resolve hard link", rel, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return nil, core.NewError(core.ErrIO, "resolve hard link", rel, err)
	}
	linkHeader := *header
	linkHeader.Mode = int64(info.Mode().Perm())
	return e.extractFile(src, target, rel, &linkHeader, opts)
}

// checkExisting refuses to clobber a file that is already present unless
// overwriting was requested.
func (e *Extractor) checkExisting(target, rel string, opts Options) error {
	info, err := lstat(e.fs, target)
	if err != nil {
		return nil
	}
	if info.IsDir() {
		return core.NewError(core.ErrIO, "extract", rel, errors.New("a directory exists at this path"))
	}
	if !opts.Overwrite {
		return core.NewError(core.ErrIO, "extract", rel, os.ErrExist)
	}
	if err := e.fs.Remove(target); err != nil {
		return core.NewError(core.ErrIO, "replace", rel, err)
	}
	return nil
}

func lstat(fs afero.Fs, path string) (os.FileInfo, error) {
	if l, ok := fs.(afero.Lstater); ok {
		info, _, err := l.LstatIfPossible(path)
		return info, err
	}
	return fs.Stat(path)
}
