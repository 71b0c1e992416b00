package sync

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkStreamSplitsContent(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 10)
	s := NewChunkStream(nil, io.NopCloser(bytes.NewReader(data)), 4)

	var chunks []*ContentChunk
	for {
		c, err := s.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		chunks = append(chunks, c)
	}
	require.NoError(t, s.Close())

	require.Len(t, chunks, 3)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, 2, chunks[2].Index)
	assert.Len(t, chunks[0].Data, 4)
	assert.Len(t, chunks[2].Data, 2)
	for _, c := range chunks {
		assert.Equal(t, chunkHash(c.Data), c.Hash)
	}
}

func TestChunkStreamEmptyContent(t *testing.T) {
	s := NewChunkStream(nil, io.NopCloser(bytes.NewReader(nil)), 4)
	_, err := s.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestChunkReaderRoundTrip(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	s := NewChunkStream(nil, io.NopCloser(bytes.NewReader(data)), 8)

	out, err := io.ReadAll(NewChunkReader(s))
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

type corruptSource struct {
	fired bool
}

func (c *corruptSource) Next() (*ContentChunk, error) {
	if c.fired {
		return nil, io.EOF
	}
	c.fired = true
	return &ContentChunk{Index: 0, Data: []byte("tampered"), Hash: chunkHash([]byte("original"))}, nil
}

func TestChunkReaderDetectsCorruption(t *testing.T) {
	_, err := io.ReadAll(NewChunkReader(&corruptSource{}))
	assert.ErrorIs(t, err, ErrChunkHashMismatch)
}
