// Package digest computes archive checksums for the algorithms a formula may
// declare.
package digest

import (
	"crypto/sha1" //nolint:gosec // legacy formulas still pin sha1 digests
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
)

// Supported algorithm names.
const (
	SHA256 = "sha256"
	SHA1   = "sha1"
	SHA512 = "sha512"
)

// HexLen returns the hex digest length for algo, or 0 if unsupported.
func HexLen(algo string) int {
	switch algo {
	case SHA256:
		return sha256.Size * 2
	case SHA1:
		return sha1.Size * 2
	case SHA512:
		return sha512.Size * 2
	}
	return 0
}

// New returns a fresh hash for algo.
func New(algo string) (hash.Hash, error) {
	switch algo {
	case SHA256:
		return sha256.New(), nil
	case SHA1:
		return sha1.New(), nil //nolint:gosec
	case SHA512:
		return sha512.New(), nil
	}
	return nil, fmt.Errorf("unsupported checksum algorithm '%s', supported: sha256, sha1, sha512", algo)
}

// Reader hashes everything read from r and returns the hex digest.
func Reader(algo string, r io.Reader) (string, int64, error) {
	h, err := New(algo)
	if err != nil {
		return "", 0, err
	}
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// File hashes the file at path.
func File(algo, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	sum, _, err := Reader(algo, f)
	if err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return sum, nil
}

// Bytes hashes data.
func Bytes(algo string, data []byte) (string, error) {
	h, err := New(algo)
	if err != nil {
		return "", err
	}
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}
