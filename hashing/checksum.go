package hashing

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/ZacxDev/texgate/logfields"
	"github.com/pkg/errors"
)

// ChecksumFileName is the name of the digest record kept at the root of every
// hashed directory.
const ChecksumFileName = ".checksum"

// ChecksumPath returns the location of the checksum record for dir.
func ChecksumPath(dir string) string {
	return filepath.Join(dir, ChecksumFileName)
}

// ReadCached returns the digest stored in dir. A missing record yields
// ok == false with a nil error; every other failure is returned.
func (h *Hasher) ReadCached(dir string) (digest string, ok bool, err error) {
	path := ChecksumPath(dir)
	data, err := h.fs.ReadFile(path)
	if err != nil {
		if os.IsNotExist(errors.Cause(err)) {
			h.logger.Debug("No stored checksum", logfields.Path(dir))
			return "", false, nil
		}
		return "", false, errors.Wrapf(err, "failed to read checksum file %s", path)
	}

	digest = strings.TrimSpace(string(data))
	h.logger.Debug("Stored checksum", logfields.Path(dir), logfields.Cached(digest))
	return digest, true, nil
}

// WriteCached replaces the checksum record in dir with digest.
func (h *Hasher) WriteCached(dir, digest string) error {
	path := ChecksumPath(dir)
	h.logger.Debug("Caching checksum", logfields.Path(path), logfields.Digest(digest))
	if err := h.fs.WriteFile(path, []byte(digest), 0644); err != nil {
		return errors.Wrapf(err, "failed to write checksum file %s", path)
	}
	return nil
}
