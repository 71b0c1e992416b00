package sync

import (
	"crypto/md5"
	"fmt"
	"io"

	"github.com/openmirror/treesync/internal/storage"
)

// DefaultChunkSize is the fixed chunk size for content streaming.
const DefaultChunkSize = 64 * 1024

// ContentChunk is one fixed-size piece of a file's content with its
// integrity hash.
type ContentChunk struct {
	Index int
	Data  []byte
	Hash  string
}

func chunkHash(data []byte) string {
	return fmt.Sprintf("%x", md5.Sum(data))
}

// ChunkStream streams a file's content in fixed-size chunks, each
// carrying an MD5 integrity hash.
type ChunkStream struct {
	Meta *storage.FileMetadata

	r         io.ReadCloser
	chunkSize int
	index     int
	done      bool
}

// NewChunkStream wraps r in a chunked stream. The stream owns r and
// closes it on Close.
func NewChunkStream(meta *storage.FileMetadata, r io.ReadCloser, chunkSize int) *ChunkStream {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &ChunkStream{Meta: meta, r: r, chunkSize: chunkSize}
}

// Next returns the next chunk, or io.EOF when the content is exhausted.
func (s *ChunkStream) Next() (*ContentChunk, error) {
	if s.done {
		return nil, io.EOF
	}

	buf := make([]byte, s.chunkSize)
	n, err := io.ReadFull(s.r, buf)
	if err == io.EOF {
		s.done = true
		return nil, io.EOF
	}
	if err == io.ErrUnexpectedEOF {
		s.done = true
	} else if err != nil {
		return nil, fmt.Errorf("read chunk %d: %w", s.index, err)
	}

	chunk := &ContentChunk{
		Index: s.index,
		Data:  buf[:n],
		Hash:  chunkHash(buf[:n]),
	}
	s.index++
	return chunk, nil
}

func (s *ChunkStream) Close() error {
	return s.r.Close()
}

// ChunkSource yields content chunks in order, ending with io.EOF.
type ChunkSource interface {
	Next() (*ContentChunk, error)
}

// chunkReader adapts a ChunkSource back into an io.Reader, verifying
// each chunk's hash as it goes.
type chunkReader struct {
	stream ChunkSource
	buf    []byte
	err    error
}

// NewChunkReader returns an io.Reader over stream that fails with
// ErrChunkHashMismatch when a corrupted chunk is encountered.
func NewChunkReader(stream ChunkSource) io.Reader {
	return &chunkReader{stream: stream}
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.buf) == 0 && r.err == nil {
		chunk, err := r.stream.Next()
		if err != nil {
			r.err = err
		} else if chunkHash(chunk.Data) != chunk.Hash {
			r.err = fmt.Errorf("%w: chunk %d", ErrChunkHashMismatch, chunk.Index)
		} else {
			r.buf = chunk.Data
		}
	}

	if len(r.buf) > 0 {
		n := copy(p, r.buf)
		r.buf = r.buf[n:]
		return n, nil
	}
	return 0, r.err
}
