// Package capture acquires local camera/microphone media, the platform
// counterpart of the browser getUserMedia call.
package capture

import (
	"context"
	"fmt"
	"strings"

	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/jmorel/visio/internal/core"
)

// Source implements core.MediaSource over pion/mediadevices.
type Source struct {
	MaxWidth  int
	MaxHeight int
}

func NewSource() *Source {
	// 640x480 keeps VP8 encoding latency acceptable on modest hardware.
	return &Source{MaxWidth: 640, MaxHeight: 480}
}

// Acquire requests camera+microphone capture. Blocks until the devices are
// granted or refused; failures come back classified as core.ErrMedia*.
func (s *Source) Acquire(ctx context.Context) (core.LocalMedia, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := s.acquire(ctx)
	if err != nil {
		return nil, Classify(err)
	}
	return m, nil
}

// localMedia owns the captured device tracks for one call session.
type localMedia struct {
	tracks []mediadevices.Track
}

func (m *localMedia) Tracks() []webrtc.TrackLocal {
	out := make([]webrtc.TrackLocal, 0, len(m.tracks))
	for _, t := range m.tracks {
		out = append(out, t)
	}
	return out
}

func (m *localMedia) Close() {
	for _, t := range m.tracks {
		if err := t.Close(); err != nil {
			log.Error().Err(err).Str("module", "capture").Msg("close track")
		}
	}
	log.Info().Str("module", "capture").Int("tracks", len(m.tracks)).Msg("local capture released")
}

// Classify maps a raw capture failure onto the media error taxonomy so the
// caller can show an actionable message.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission denied") || strings.Contains(msg, "not allowed"):
		return fmt.Errorf("%w: %v", core.ErrMediaPermissionDenied, err)
	case strings.Contains(msg, "busy"):
		return fmt.Errorf("%w: %v", core.ErrMediaDeviceBusy, err)
	case strings.Contains(msg, "no such device") ||
		strings.Contains(msg, "not found") ||
		strings.Contains(msg, "no capture backend") ||
		strings.Contains(msg, "failed to find the best driver"):
		return fmt.Errorf("%w: %v", core.ErrMediaDeviceNotFound, err)
	case strings.Contains(msg, "constraint") || strings.Contains(msg, "unsupported"):
		return fmt.Errorf("%w: %v", core.ErrMediaConstraints, err)
	}
	return fmt.Errorf("%w: %v", core.ErrMediaUnknown, err)
}
