// Package integrity computes the content checksums used to decide whether a
// local sound file matches its remote object.
package integrity

import (
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/datallboy/serenity/internal/domain"
)

// Encoding matches the object store's published md5Hash format.
var Encoding = base64.StdEncoding

// Checksum streams the file at path through MD5 and returns the base64 digest.
// A missing file yields an error wrapping domain.ErrNotFound.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %w", domain.ErrNotFound, err)
		}
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return Encode(h.Sum(nil)), nil
}

// Sum returns the base64 MD5 digest of data.
func Sum(data []byte) string {
	sum := md5.Sum(data)
	return Encode(sum[:])
}

func Encode(digest []byte) string {
	return Encoding.EncodeToString(digest)
}

// Matches reports whether the file at path has the expected checksum.
// A missing file is not an error, it simply does not match.
func Matches(path, expected string) (bool, error) {
	got, err := Checksum(path)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return expected != "" && got == expected, nil
}
