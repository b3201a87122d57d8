package cache

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
)

// compressThreshold is the entry size above which DiskLayer stores a
// zstd-compressed body instead of the raw bytes.
const compressThreshold = 4096

// diskHeader is the fixed-size prefix written before every cached value:
// a format tag, the original creation time, and the TTL, so an entry can
// be judged expired without touching the payload.
type diskHeader struct {
	CreatedAtUnix int64
	TTLNanos      int64
	Compressed    bool
}

const headerSize = 8 + 8 + 1

// DiskLayer persists cache entries as individual files under dir, one file
// per key (hashed to avoid filesystem-unsafe characters), optionally
// zstd-compressed above compressThreshold.
type DiskLayer struct {
	dir      string
	compress bool
	encoder  *zstd.Encoder
	decoder  *zstd.Decoder
}

// NewDiskLayer creates an L2 layer rooted at dir, creating it if needed.
func NewDiskLayer(dir string, compress bool) (*DiskLayer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("init zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("init zstd decoder: %w", err)
	}
	return &DiskLayer{dir: dir, compress: compress, encoder: enc, decoder: dec}, nil
}

func (d *DiskLayer) Name() string { return "l2-disk" }

func (d *DiskLayer) pathFor(key string) string {
	return filepath.Join(d.dir, hashKey(key)+".bin")
}

func (d *DiskLayer) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := os.ReadFile(d.pathFor(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if len(data) < headerSize {
		return nil, false, nil
	}

	hdr := diskHeader{
		CreatedAtUnix: int64(binary.BigEndian.Uint64(data[0:8])),
		TTLNanos:      int64(binary.BigEndian.Uint64(data[8:16])),
		Compressed:    data[16] == 1,
	}
	body := data[headerSize:]

	entry := Entry{CreatedAt: time.Unix(hdr.CreatedAtUnix, 0), TTL: time.Duration(hdr.TTLNanos)}
	if entry.Expired(time.Now()) {
		_ = os.Remove(d.pathFor(key))
		return nil, false, nil
	}

	if hdr.Compressed {
		decoded, err := d.decoder.DecodeAll(body, nil)
		if err != nil {
			return nil, false, fmt.Errorf("decompress cache entry: %w", err)
		}
		return decoded, true, nil
	}
	return body, true, nil
}

func (d *DiskLayer) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if value == nil {
		return os.Remove(d.pathFor(key))
	}

	body := value
	compressed := false
	if d.compress && len(value) > compressThreshold {
		body = d.encoder.EncodeAll(value, nil)
		compressed = true
	}

	var buf bytes.Buffer
	var hdrBytes [headerSize]byte
	binary.BigEndian.PutUint64(hdrBytes[0:8], uint64(time.Now().Unix()))
	binary.BigEndian.PutUint64(hdrBytes[8:16], uint64(ttl))
	if compressed {
		hdrBytes[16] = 1
	}
	buf.Write(hdrBytes[:])
	buf.Write(body)

	tmp := d.pathFor(key) + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, d.pathFor(key))
}

func hashKey(key string) string {
	h := fnv.New64a()
	h.Write([]byte(key))
	return fmt.Sprintf("%016x", h.Sum64())
}
