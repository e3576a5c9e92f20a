package media

import (
	"errors"
	"io"
	"math/rand"
	"sync"
	"sync/atomic"

	"huddle/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// captureTrack forwards RTP from a mediadevices track into a static local
// track. Disabled tracks keep reading from the device and drop packets.
type captureTrack struct {
	source mediadevices.Track
	local  *webrtc.TrackLocalStaticRTP
	kind   domain.TrackKind
	logger *zap.SugaredLogger

	enabled atomic.Bool
	stopped atomic.Bool

	mu      sync.Mutex
	onEnded func()
	ended   bool
}

func newCaptureTrack(source mediadevices.Track, streamID string, mtu int, logger *zap.SugaredLogger) (*captureTrack, error) {
	kind := domain.KindAudio
	capability := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	if source.Kind() == webrtc.RTPCodecTypeVideo {
		kind = domain.KindVideo
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}

	local, err := webrtc.NewTrackLocalStaticRTP(capability, string(kind)+"-"+uuid.NewString(), streamID)
	if err != nil {
		return nil, err
	}

	t := &captureTrack{
		source: source,
		local:  local,
		kind:   kind,
		logger: logger.With("track_id", local.ID(), "kind", kind),
	}
	t.enabled.Store(true)

	reader, err := source.NewRTPReader(capability.MimeType, rand.Uint32(), mtu)
	if err != nil {
		return nil, err
	}
	source.OnEnded(func(err error) {
		t.logger.Infow("Capture source ended", "error", err)
		t.end()
	})
	go t.pump(reader)
	return t, nil
}

func (t *captureTrack) pump(reader mediadevices.RTPReadCloser) {
	defer reader.Close()

	for {
		packets, release, err := reader.Read()
		if err != nil {
			if !errors.Is(err, io.EOF) && !t.stopped.Load() {
				t.logger.Warnw("Capture read failed", "error", err)
			}
			t.end()
			return
		}
		if t.enabled.Load() {
			for _, pkt := range packets {
				if err := t.local.WriteRTP(pkt); err != nil && !errors.Is(err, io.ErrClosedPipe) {
					t.logger.Debugw("Failed to write RTP", "error", err)
				}
			}
		}
		release()
	}
}

// end runs the ended callback once, unless the track was stopped locally.
func (t *captureTrack) end() {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return
	}
	t.ended = true
	fn := t.onEnded
	t.mu.Unlock()

	if fn != nil && !t.stopped.Load() {
		fn()
	}
}

func (t *captureTrack) ID() string                    { return t.local.ID() }
func (t *captureTrack) Kind() domain.TrackKind        { return t.kind }
func (t *captureTrack) Enabled() bool                 { return t.enabled.Load() }
func (t *captureTrack) SetEnabled(enabled bool)       { t.enabled.Store(enabled) }
func (t *captureTrack) TrackLocal() webrtc.TrackLocal { return t.local }

func (t *captureTrack) OnEnded(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEnded = fn
}

func (t *captureTrack) Stop() {
	if t.stopped.Swap(true) {
		return
	}
	if err := t.source.Close(); err != nil {
		t.logger.Debugw("Error closing capture source", "error", err)
	}
}
