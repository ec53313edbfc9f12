package pkgdata

import (
	"encoding/hex"
	"io"
	"os"

	"lukechampine.com/blake3"
)

// ComputeChecksum returns the hex-encoded blake3 digest of the file at path.
// ConductBuild calls this on every freshly built package archive so that
// PackageInfo.Checksum can be cross-checked against a stored value on a
// later mirror fetch, rather than trusting file size alone.
func ComputeChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New(32, nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyChecksum reports whether the file at path hashes to want.
func VerifyChecksum(path, want string) (bool, error) {
	got, err := ComputeChecksum(path)
	if err != nil {
		return false, err
	}
	return got == want, nil
}
