package engine

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Dyastin-0/swapbytes/core"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

// Encoder and decoder are safe for concurrent EncodeAll/DecodeAll and are
// shared by every transfer.
var (
	chunkEncoder *zstd.Encoder
	chunkDecoder *zstd.Decoder
)

func init() {
	var err error
	chunkEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
	)
	if err != nil {
		panic("engine: zstd encoder initialization failed: " + err.Error())
	}

	chunkDecoder, err = zstd.NewReader(nil,
		zstd.WithDecoderMaxMemory(core.MaxPayloadSize),
	)
	if err != nil {
		panic("engine: zstd decoder initialization failed: " + err.Error())
	}
}

// resolveShared maps a requested name into dir. Any ".." is cleaned away
// against the root before joining so the result never leaves dir.
func resolveShared(dir, name string) string {
	clean := filepath.Clean(string(filepath.Separator) + filepath.FromSlash(name))
	return filepath.Join(dir, clean)
}

func statShared(path string) (uint64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrFileUnavailable, err)
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("%w: %s is not a regular file", ErrFileUnavailable, filepath.Base(path))
	}
	return uint64(info.Size()), nil
}

// downloadName is the local name for a requested path.
func downloadName(filename string) string {
	name := filepath.Base(filepath.FromSlash(filename))
	if name == "." || name == string(filepath.Separator) || name == ".." {
		return "download"
	}
	return name
}

// uniquePath returns dir/name, or a timestamped variant if that exists.
func uniquePath(dir, name string, now time.Time) string {
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return path
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	stamp := now.Format("20060102-150405")

	path = filepath.Join(dir, fmt.Sprintf("%s-%s%s", stem, stamp, ext))
	for i := 1; ; i++ {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return path
		}
		path = filepath.Join(dir, fmt.Sprintf("%s-%s-%d%s", stem, stamp, i, ext))
	}
}

// fileSink reassembles an inbound file. Chunks are applied strictly in index
// order; anything ahead of the next expected index waits in a bounded
// reorder buffer.
type fileSink struct {
	dir    string
	name   string
	tmp    *os.File
	hasher *blake3.Hasher

	window  uint64
	next    uint64
	pending map[uint64][]byte

	sawLast   bool
	lastIndex uint64
	written   uint64
}

func openSink(dir, name string, window int) (*fileSink, error) {
	if window <= 0 {
		window = 1
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".swapbytes-*.part")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	return &fileSink{
		dir:     dir,
		name:    name,
		tmp:     tmp,
		hasher:  blake3.New(),
		window:  uint64(window),
		pending: make(map[uint64][]byte),
	}, nil
}

// Put stores one verified chunk. Duplicates are ignored.
func (s *fileSink) Put(index uint64, data []byte, last bool) error {
	if index < s.next {
		return nil
	}
	if _, ok := s.pending[index]; ok {
		return nil
	}
	if index >= s.next+s.window {
		return fmt.Errorf("%w: chunk %d, expecting %d", ErrReorderWindowExceeded, index, s.next)
	}
	if s.sawLast && index > s.lastIndex {
		return fmt.Errorf("%w: chunk %d after last chunk %d", ErrTransferIntegrityMismatch, index, s.lastIndex)
	}

	if last {
		s.sawLast = true
		s.lastIndex = index
	}

	s.pending[index] = data
	for {
		chunk, ok := s.pending[s.next]
		if !ok {
			return nil
		}
		delete(s.pending, s.next)

		if _, err := s.tmp.Write(chunk); err != nil {
			return fmt.Errorf("failed to write chunk %d: %w", s.next, err)
		}
		s.hasher.Write(chunk)
		s.written += uint64(len(chunk))
		s.next++
	}
}

func (s *fileSink) Written() uint64 {
	return s.written
}

// Done reports whether every chunk up to the last one has been applied.
func (s *fileSink) Done() bool {
	return s.sawLast && s.next > s.lastIndex
}

// Finish checks the whole-file hash and moves the file into place.
func (s *fileSink) Finish(hash []byte, now time.Time) (string, error) {
	if !s.Done() {
		return "", fmt.Errorf("%w: missing chunks from %d", ErrTransferIntegrityMismatch, s.next)
	}

	if sum := s.hasher.Sum(nil); !bytes.Equal(sum, hash) {
		return "", fmt.Errorf("%w: content hash differs", ErrTransferIntegrityMismatch)
	}

	if err := s.tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}

	path := uniquePath(s.dir, s.name, now)
	if err := os.Rename(s.tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to move file into place: %w", err)
	}
	return path, nil
}

// Discard removes the partial file.
func (s *fileSink) Discard() {
	s.tmp.Close()
	os.Remove(s.tmp.Name())
}

// verifyChunk returns the plain chunk bytes after checking size and sum.
func verifyChunk(c *core.FileChunk) ([]byte, error) {
	if uint64(c.Size) > core.MaxPayloadSize {
		return nil, fmt.Errorf("%w: chunk %d claims %d bytes", ErrTransferIntegrityMismatch, c.Index, c.Size)
	}

	data := c.Data
	if c.Zstd {
		var err error
		data, err = chunkDecoder.DecodeAll(c.Data, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: chunk %d: %v", ErrTransferIntegrityMismatch, c.Index, err)
		}
	}

	if uint32(len(data)) != c.Size {
		return nil, fmt.Errorf("%w: chunk %d is %d bytes, want %d", ErrTransferIntegrityMismatch, c.Index, len(data), c.Size)
	}

	sum := blake3.Sum256(data)
	if !bytes.Equal(sum[:], c.Sum) {
		return nil, fmt.Errorf("%w: chunk %d checksum", ErrTransferIntegrityMismatch, c.Index)
	}

	return data, nil
}

// streamFile reads path in chunkSize pieces and hands each chunk to emit in
// order. The last chunk has Last set; an empty file yields one empty chunk.
// It returns the BLAKE3-256 of the whole file.
func streamFile(ctx context.Context, id, path string, chunkSize int, compress bool, emit func(*core.FileChunk) error) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileUnavailable, err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, chunkSize)
	hasher := blake3.New()

	for index := uint64(0); ; index++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		buf := make([]byte, chunkSize)
		n, err := io.ReadFull(r, buf)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("failed to read chunk %d: %w", index, err)
		}
		buf = buf[:n]

		_, peekErr := r.Peek(1)
		last := peekErr != nil

		hasher.Write(buf)
		sum := blake3.Sum256(buf)

		chunk := &core.FileChunk{
			ID:    id,
			Index: index,
			Data:  buf,
			Size:  uint32(n),
			Last:  last,
			Sum:   sum[:],
		}
		if compress && n > 0 {
			if packed := chunkEncoder.EncodeAll(buf, nil); len(packed) < n {
				chunk.Data = packed
				chunk.Zstd = true
			}
		}

		if err := emit(chunk); err != nil {
			return nil, err
		}

		if last {
			if peekErr != io.EOF {
				return nil, fmt.Errorf("failed to read after chunk %d: %w", index, peekErr)
			}
			return hasher.Sum(nil), nil
		}
	}
}
