// Package payload produces the synthetic byte payloads served by download
// tests. A payload is a lazy sequence of fixed-size chunks whose total
// length is exactly the requested size; only the final chunk may be shorter.
//
// The content of a chunk does not matter to the measurement, so the
// generator offers three policies with different CPU and realism tradeoffs:
//
//   - PolicyZero serves one precomputed all-zero chunk.
//   - PolicyRandom serves one precomputed pseudo-random chunk.
//   - PolicyStream fills a per-request buffer from a ChaCha8 stream before
//     every chunk, so that no two chunks carry the same bytes.
//
// Precomputed chunks are built once by NewGenerator and are never written
// again, so they are shared by every concurrent Source without locking.
package payload

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	mrand "math/rand/v2"
	"strings"
)

// Policy selects how chunk content is produced.
type Policy string

const (
	// PolicyZero serves all-zero chunks.
	PolicyZero = Policy("zero")
	// PolicyRandom serves a random chunk computed once at startup.
	PolicyRandom = Policy("random")
	// PolicyStream generates fresh pseudo-random content for every chunk.
	PolicyStream = Policy("stream")
)

var (
	// ErrInvalidChunkSize is returned when the chunk size is not positive.
	ErrInvalidChunkSize = errors.New("chunk size must be positive")
	// ErrUnknownPolicy is returned for policies other than zero, random
	// and stream.
	ErrUnknownPolicy = errors.New("unknown payload policy")
)

// ParsePolicy converts s to a Policy.
func ParsePolicy(s string) (Policy, error) {
	p := Policy(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case PolicyZero, PolicyRandom, PolicyStream:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

// Source is a lazy, finite sequence of chunks.
type Source interface {
	// Size returns the total number of bytes the Source produces.
	Size() int64
	// Next returns the next chunk, or io.EOF once Size bytes have been
	// produced. The returned slice must not be modified and is only valid
	// until the following call to Next.
	Next() ([]byte, error)
}

// Generator creates Sources. It is safe for concurrent use.
type Generator struct {
	policy    Policy
	chunkSize int
	// shared is the precomputed chunk; nil with PolicyStream.
	shared []byte
}

// NewGenerator returns a Generator producing chunks of chunkSize bytes
// according to policy.
func NewGenerator(policy Policy, chunkSize int) (*Generator, error) {
	if chunkSize <= 0 {
		return nil, ErrInvalidChunkSize
	}
	g := &Generator{
		policy:    policy,
		chunkSize: chunkSize,
	}
	switch policy {
	case PolicyZero:
		g.shared = make([]byte, chunkSize)
	case PolicyRandom:
		g.shared = make([]byte, chunkSize)
		if _, err := rand.Read(g.shared); err != nil {
			return nil, fmt.Errorf("cannot build random chunk: %w", err)
		}
	case PolicyStream:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, policy)
	}
	return g, nil
}

// Policy returns the generator's content policy.
func (g *Generator) Policy() Policy {
	return g.policy
}

// ChunkSize returns the size of every chunk but the last.
func (g *Generator) ChunkSize() int {
	return g.chunkSize
}

// New returns a Source producing exactly size bytes. A non-positive size
// yields an empty Source.
func (g *Generator) New(size int64) Source {
	if size < 0 {
		size = 0
	}
	s := &source{
		size:      size,
		remaining: size,
		chunk:     g.shared,
	}
	if g.policy == PolicyStream {
		s.stream = newStream(g.chunkSize)
	}
	return s
}

type source struct {
	size      int64
	remaining int64
	chunk     []byte
	stream    *stream
}

func (s *source) Size() int64 {
	return s.size
}

func (s *source) Next() ([]byte, error) {
	if s.remaining <= 0 {
		return nil, io.EOF
	}
	if s.stream != nil {
		b, err := s.stream.fill()
		if err != nil {
			return nil, err
		}
		s.chunk = b
	}
	n := int64(len(s.chunk))
	if s.remaining < n {
		n = s.remaining
	}
	s.remaining -= n
	return s.chunk[:n], nil
}

// SharedChunk returns the precomputed chunk every full-size chunk of s is
// taken from, or nil when chunks are generated per Source.
func (s *source) SharedChunk() []byte {
	if s.stream != nil {
		return nil
	}
	return s.chunk
}

// stream owns the single buffer of a PolicyStream Source. The buffer is
// allocated on first use, so empty payloads allocate nothing.
type stream struct {
	size int
	buf  []byte
	rng  *mrand.ChaCha8
}

func newStream(size int) *stream {
	var seed [32]byte
	for i := 0; i < len(seed); i += 8 {
		binary.LittleEndian.PutUint64(seed[i:], mrand.Uint64())
	}
	return &stream{
		size: size,
		rng:  mrand.NewChaCha8(seed),
	}
}

func (s *stream) fill() ([]byte, error) {
	if s.buf == nil {
		s.buf = make([]byte, s.size)
	}
	if _, err := s.rng.Read(s.buf); err != nil {
		return nil, fmt.Errorf("cannot generate chunk: %w", err)
	}
	return s.buf, nil
}
