package reliability

import (
	"errors"
	"sync"
	"time"

	"github.com/zoobzio/tapez"
)

var errSinkDown = errors.New("sink down")

// gatedSink blocks writes between Hold and Release, simulating a stalled disk.
type gatedSink struct {
	tapez.MemorySink
	mu   sync.Mutex
	gate chan struct{}
}

// Hold makes subsequent writes block until Release.
func (s *gatedSink) Hold() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = make(chan struct{})
}

// Release unblocks waiting and future writes.
func (s *gatedSink) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate != nil {
		close(s.gate)
		s.gate = nil
	}
}

func (s *gatedSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return s.MemorySink.Write(p)
}

// slowSink adds a fixed latency to every write.
type slowSink struct {
	tapez.MemorySink
	delay time.Duration
}

func (s *slowSink) Write(p []byte) (int, error) {
	time.Sleep(s.delay)
	return s.MemorySink.Write(p)
}

// failingSink fails writes after the header. While failures remain it
// writes half of each chunk before reporting the error, exercising resumed
// chapter writes. A negative failures count fails forever.
type failingSink struct {
	tapez.MemorySink
	mu       sync.Mutex
	armed    bool
	failures int
	failed   int
}

func (s *failingSink) Arm(failures int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = true
	s.failures = failures
}

func (s *failingSink) Failed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

func (s *failingSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	fail := s.armed && (s.failures < 0 || s.failed < s.failures)
	if fail {
		s.failed++
	}
	s.mu.Unlock()
	if !fail {
		return s.MemorySink.Write(p)
	}
	n, _ := s.MemorySink.Write(p[:len(p)/2])
	return n, errSinkDown
}
