package capture

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/MrWong99/beatify/internal/analyzer"
	"github.com/MrWong99/beatify/pkg/audio"
	"github.com/MrWong99/beatify/pkg/recognize"
)

// session is the state of one recording. It is owned by the controller and
// never shared outside the package; only its analyzer is published.
type session struct {
	stream     audio.Stream
	analyzer   *analyzer.Analyzer
	enc        Encoder
	recordType recognize.RecordType
	startedAt  time.Time

	// cancel stops the fragment cadence.
	cancel context.CancelFunc
	// wg tracks the pump and cadence goroutines.
	wg sync.WaitGroup

	// encFailed is only touched by the pump goroutine.
	encFailed bool

	mu        sync.Mutex
	fragments [][]byte
	size      int

	releaseOnce sync.Once
}

// append stores a non-empty fragment and returns its length.
func (s *session) append(b []byte) int {
	if len(b) == 0 {
		return 0
	}
	s.mu.Lock()
	s.fragments = append(s.fragments, b)
	s.size += len(b)
	s.mu.Unlock()
	return len(b)
}

// payload joins the fragments in capture order. It is empty, not nil, when
// no fragment was recorded.
func (s *session) payload() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Join(s.fragments, nil)
}

func (s *session) stats() (fragments, size int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fragments), s.size
}

func (s *session) fragmentCount() int {
	n, _ := s.stats()
	return n
}

// release closes the stream and the analyzer exactly once.
func (s *session) release() {
	s.releaseOnce.Do(func() {
		_ = s.stream.Close()
		s.analyzer.Close()
	})
}
