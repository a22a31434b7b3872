package core

import "sync"

// RemoteStream accumulates inbound tracks into a single logical stream.
// Exposed to the UI by reference, never owned by it.
type RemoteStream struct {
	mu     sync.RWMutex
	tracks []RemoteTrack
}

func (s *RemoteStream) add(t RemoteTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = append(s.tracks, t)
}

func (s *RemoteStream) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = nil
}

// Tracks returns a snapshot of the accumulated tracks.
func (s *RemoteStream) Tracks() []RemoteTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RemoteTrack, len(s.tracks))
	copy(out, s.tracks)
	return out
}

func (s *RemoteStream) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tracks)
}
