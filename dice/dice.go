// Package dice provides the six-sided die source used by matches.
//
// A Roller is injected into the match service so production draws come from
// a crypto-seeded generator and tests can script exact faces.
package dice

import (
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"math/rand"
	"sync"

	"github.com/rotisserie/eris"
)

const Sides = 6

// ErrSequenceExhausted is returned by Sequence once every scripted face is used.
var ErrSequenceExhausted = errors.New("dice sequence exhausted")

// Roller draws independent faces in [1, 6].
type Roller interface {
	RollD6() int
}

// RandRoller is a Roller backed by math/rand. It is safe for concurrent use.
type RandRoller struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRoller returns a RandRoller with a fixed seed. The same seed always
// produces the same faces.
func NewRoller(seed int64) *RandRoller {
	return &RandRoller{rng: rand.New(rand.NewSource(seed))}
}

// NewSeededRoller returns a RandRoller seeded from crypto/rand.
func NewSeededRoller() (*RandRoller, error) {
	seed, err := NewSeed()
	if err != nil {
		return nil, err
	}
	return NewRoller(seed), nil
}

func (r *RandRoller) RollD6() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Intn(Sides) + 1
}

// NewSeed generates a random seed using crypto/rand.
func NewSeed() (int64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, eris.Wrap(err, "read random seed")
	}
	return int64(binary.LittleEndian.Uint64(b[:])), nil
}

// Sequence scripts exact faces for tests. Once the script runs out it draws
// from Fallback, or from a fixed-seed roller when Fallback is nil.
type Sequence struct {
	mu       sync.Mutex
	faces    []int
	next     int
	Fallback Roller
}

// NewSequence scripts the given faces in order.
func NewSequence(faces ...int) *Sequence {
	return &Sequence{faces: faces}
}

// Push appends more faces to the script.
func (s *Sequence) Push(faces ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faces = append(s.faces, faces...)
}

// Remaining reports how many scripted faces are left.
func (s *Sequence) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.faces) - s.next
}

// Next returns the next scripted face.
func (s *Sequence) Next() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.faces) {
		return 0, ErrSequenceExhausted
	}
	face := s.faces[s.next]
	s.next++
	return face, nil
}

// RollD6 returns the next scripted face, or a fallback draw once exhausted.
func (s *Sequence) RollD6() int {
	face, err := s.Next()
	if err == nil {
		return face
	}
	s.mu.Lock()
	if s.Fallback == nil {
		s.Fallback = NewRoller(0)
	}
	fallback := s.Fallback
	s.mu.Unlock()
	return fallback.RollD6()
}
