package services

import (
	"context"
	"fmt"
	"sync"

	"huddle/internal/core/ports"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// ScreenShareService swaps the outgoing video between camera and screen.
// Start and Stop are serialized and each completes the swap on every live
// session before returning.
type ScreenShareService struct {
	capture  *CaptureService
	registry ports.PeerRegistry
	metrics  ports.Metrics
	logger   *zap.SugaredLogger

	mu               sync.Mutex
	display          ports.LocalTrack
	hadCamera        bool
	cameraWasEnabled bool
}

func NewScreenShareService(capture *CaptureService, registry ports.PeerRegistry, metrics ports.Metrics, logger *zap.SugaredLogger) *ScreenShareService {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &ScreenShareService{
		capture:  capture,
		registry: registry,
		metrics:  metrics,
		logger:   logger,
	}
}

func (s *ScreenShareService) Sharing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.display != nil
}

// Start captures the display and sends it instead of the camera. Calling it
// while already sharing does nothing.
func (s *ScreenShareService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.display != nil {
		return nil
	}

	display, err := s.capture.AcquireDisplayTrack(ctx)
	if err != nil {
		return fmt.Errorf("failed to capture display: %w", err)
	}

	camera := s.capture.ReplaceVideoTrack(display, true)
	swapped, err := s.registry.ReplaceOutgoingVideo(display.TrackLocal())
	if err != nil {
		s.logger.Warnw("Some sessions rejected the screen track", "error", err)
	}

	s.display = display
	s.hadCamera = camera != nil
	s.cameraWasEnabled = true
	if camera != nil {
		s.cameraWasEnabled = camera.Enabled()
		camera.Stop()
	}

	display.OnEnded(func() {
		go s.stopIfCurrent(display)
	})

	s.metrics.ScreenShareChanged(true)
	s.logger.Infow("Screen sharing started", "sessions", swapped, "track_id", display.ID())
	return nil
}

// Stop restores the camera. If the camera cannot be captured again the
// outgoing video is cleared and the capture error returned.
func (s *ScreenShareService) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked(ctx)
}

func (s *ScreenShareService) stopIfCurrent(track ports.LocalTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.display != track {
		return
	}
	s.logger.Infow("Display capture ended outside the application")
	if err := s.stopLocked(context.Background()); err != nil {
		s.logger.Errorw("Failed to restore camera after display capture ended", "error", err)
	}
}

func (s *ScreenShareService) stopLocked(ctx context.Context) error {
	if s.display == nil {
		return nil
	}
	display := s.display
	s.display = nil
	defer func() {
		display.Stop()
		s.metrics.ScreenShareChanged(false)
	}()

	if !s.hadCamera {
		s.capture.ReplaceVideoTrack(nil, false)
		s.clearOutgoingVideo()
		s.logger.Infow("Screen sharing stopped")
		return nil
	}

	camera, err := s.capture.AcquireCameraTrack(ctx)
	if err != nil {
		s.capture.ReplaceVideoTrack(nil, false)
		s.clearOutgoingVideo()
		return fmt.Errorf("failed to restore camera: %w", err)
	}

	camera.SetEnabled(s.cameraWasEnabled)
	s.capture.ReplaceVideoTrack(camera, false)
	swapped, err := s.registry.ReplaceOutgoingVideo(camera.TrackLocal())
	if err != nil {
		s.logger.Warnw("Some sessions rejected the camera track", "error", err)
	}
	s.logger.Infow("Screen sharing stopped", "sessions", swapped)
	return nil
}

func (s *ScreenShareService) clearOutgoingVideo() {
	var none webrtc.TrackLocal
	if _, err := s.registry.ReplaceOutgoingVideo(none); err != nil {
		s.logger.Warnw("Failed to clear outgoing video", "error", err)
	}
}
