package fsops

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"lukechampine.com/blake3"
)

// Digest holds the checksums of one file
type Digest struct {
	SHA256 string
	BLAKE3 string
	Size   int64
}

// HashFile computes the SHA-256 and BLAKE3 digests of path in one pass
func HashFile(fs afero.Fs, path string) (Digest, error) {
	f, err := fs.Open(path)
	if err != nil {
		return Digest{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	return HashReader(f)
}

// HashReader computes the SHA-256 and BLAKE3 digests of r
func HashReader(r io.Reader) (Digest, error) {
	sha := sha256.New()
	b3 := blake3.New(32, nil)

	n, err := io.Copy(io.MultiWriter(sha, b3), r)
	if err != nil {
		return Digest{}, fmt.Errorf("hash: %w", err)
	}

	return Digest{
		SHA256: hex.EncodeToString(sha.Sum(nil)),
		BLAKE3: hex.EncodeToString(b3.Sum(nil)),
		Size:   n,
	}, nil
}

// SHA256File returns the hex SHA-256 of path
func SHA256File(fs afero.Fs, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CheckWritable checks if a directory is writable
func CheckWritable(fs afero.Fs, dir string) error {
	f, err := afero.TempFile(fs, dir, ".write_test-*")
	if err != nil {
		return fmt.Errorf("path not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return fs.Remove(name)
}

// Exists checks if a path exists
func Exists(fs afero.Fs, path string) bool {
	_, err := fs.Stat(path)
	return err == nil
}

// IsRegular checks if a path is a regular file
func IsRegular(fs afero.Fs, path string) bool {
	info, err := fs.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}

// CopyFile copies src to dst through a temporary file in dst's directory,
// keeping src's permissions.
func CopyFile(fs afero.Fs, src, dst string) (err error) {
	in, err := fs.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	if err := fs.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}

	tmp, err := afero.TempFile(fs, filepath.Dir(dst), "."+filepath.Base(dst)+"-*")
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = fs.Remove(tmpName)
		}
	}()

	if _, err = io.Copy(tmp, in); err != nil {
		tmp.Close()
		return fmt.Errorf("write destination: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close destination: %w", err)
	}
	if err = fs.Chmod(tmpName, info.Mode().Perm()); err != nil {
		return fmt.Errorf("chmod destination: %w", err)
	}
	if err = fs.Rename(tmpName, dst); err != nil {
		return fmt.Errorf("rename destination: %w", err)
	}
	return nil
}

// SameContent reports whether two files hold identical bytes
func SameContent(fs afero.Fs, a, b string) (bool, error) {
	infoA, err := fs.Stat(a)
	if err != nil {
		return false, err
	}
	infoB, err := fs.Stat(b)
	if err != nil {
		return false, err
	}
	if infoA.Size() != infoB.Size() {
		return false, nil
	}

	dataA, err := afero.ReadFile(fs, a)
	if err != nil {
		return false, err
	}
	dataB, err := afero.ReadFile(fs, b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(dataA, dataB), nil
}

// Move renames src to dst, replacing dst
func Move(fs afero.Fs, src, dst string) error {
	if err := fs.Rename(src, dst); err != nil {
		if os.IsNotExist(err) {
			return err
		}
		return fmt.Errorf("move %s: %w", src, err)
	}
	return nil
}
