package blob

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"
)

const (
	// MinPartSize is the S3 minimum for all but the last multipart part.
	MinPartSize = 5 << 20
	// MaxParts is the S3 cap on multipart part count.
	MaxParts = 10000
)

// ErrTooLarge means the object cannot be expressed within MaxParts parts.
var ErrTooLarge = errors.New("object too large for multipart upload")

// PartSizeFor returns the part size for a multipart upload of size bytes:
// at least MinPartSize, at least size/MaxParts, rounded up to a 5 MiB multiple.
func PartSizeFor(size int64) int64 {
	partSize := (size + MaxParts - 1) / MaxParts
	if partSize < MinPartSize {
		partSize = MinPartSize
	}
	if rem := partSize % MinPartSize; rem != 0 {
		partSize += MinPartSize - rem
	}
	return partSize
}

// NumParts returns the part count for size bytes at the policy part size,
// or ErrTooLarge when that would exceed MaxParts.
func NumParts(size int64) (int, error) {
	partSize := PartSizeFor(size)
	n := int((size + partSize - 1) / partSize)
	if n > MaxParts {
		return 0, ErrTooLarge
	}
	if n < 1 {
		n = 1
	}
	return n, nil
}

// ObjectKey builds the storage key for a new upload:
// uploads/<unix_ms>_<rand12>.<ext>. The extension comes from the original
// file name with any characters unsafe in a key percent-escaped.
func ObjectKey(fileName string, now time.Time, rand12 string) string {
	ext := strings.TrimPrefix(path.Ext(fileName), ".")
	ext = url.PathEscape(ext)
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("uploads/%d_%s.%s", now.UnixMilli(), rand12, ext)
}
