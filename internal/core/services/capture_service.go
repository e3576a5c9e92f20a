package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/pkg/tracing"

	"go.uber.org/zap"
)

type CaptureOptions struct {
	Profiles          []domain.CaptureProfile
	StartVideoEnabled bool
	StartAudioEnabled bool
}

func DefaultCaptureOptions() CaptureOptions {
	return CaptureOptions{
		Profiles:          domain.DefaultCaptureProfiles(),
		StartVideoEnabled: true,
		StartAudioEnabled: true,
	}
}

// CaptureService owns the local tracks. Every mutation goes through its
// methods; other components only read Tracks and State.
type CaptureService struct {
	devices ports.MediaDevices
	opts    CaptureOptions
	metrics ports.Metrics
	logger  *zap.SugaredLogger

	mu            sync.RWMutex
	video         ports.LocalTrack
	audio         ports.LocalTrack
	profile       string
	screenSharing bool
}

func NewCaptureService(devices ports.MediaDevices, opts CaptureOptions, metrics ports.Metrics, logger *zap.SugaredLogger) *CaptureService {
	if len(opts.Profiles) == 0 {
		opts.Profiles = domain.DefaultCaptureProfiles()
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &CaptureService{
		devices: devices,
		opts:    opts,
		metrics: metrics,
		logger:  logger,
	}
}

// Acquire walks the profile ladder until one capture succeeds and stops any
// tracks held before. On failure the held tracks are kept.
func (s *CaptureService) Acquire(ctx context.Context, preferAudioOnly bool) (domain.LocalMediaState, error) {
	state, retired, err := s.Reacquire(ctx, preferAudioOnly)
	for _, t := range retired {
		t.Stop()
	}
	return state, err
}

// Reacquire is Acquire without stopping the previously held tracks: they are
// returned so the caller can move senders off them first. It refuses while
// the screen is being shared.
func (s *CaptureService) Reacquire(ctx context.Context, preferAudioOnly bool) (domain.LocalMediaState, []ports.LocalTrack, error) {
	ctx, span := tracing.TraceMedia(ctx, "acquire")
	defer span.End()

	s.mu.RLock()
	sharing := s.screenSharing
	s.mu.RUnlock()
	if sharing {
		return s.State(), nil, domain.ErrScreenShareActive
	}

	devices := s.devices.Enumerate()
	hasVideo := domain.HasKind(devices, domain.KindVideo)
	hasAudio := domain.HasKind(devices, domain.KindAudio)
	enumerated := len(devices) > 0

	var lastErr error
	for _, profile := range s.opts.Profiles {
		if preferAudioOnly && profile.WantsVideo() {
			continue
		}
		if enumerated && ((profile.WantsVideo() && !hasVideo) || (profile.WantsAudio() && !hasAudio)) {
			s.logger.Debugw("Skipping capture profile without matching devices", "profile", profile.Name)
			continue
		}

		tracks, err := s.devices.GetUserMedia(ctx, profile)
		s.metrics.ObserveAcquisition(profile.Name, err)
		if err != nil {
			lastErr = classifyAcquisition(profile.Name, err)
			s.logger.Warnw("Capture profile failed", "profile", profile.Name, "error", lastErr)
			if ctx.Err() != nil {
				return s.State(), nil, ctx.Err()
			}
			continue
		}

		state, retired := s.hold(profile.Name, tracks)
		tracing.AddSpanAttributes(ctx, tracing.ProfileKey.String(profile.Name))
		s.logger.Infow("Local media acquired",
			"profile", profile.Name,
			"video", state.VideoTrackPresent,
			"audio", state.AudioTrackPresent,
			"replaced", len(retired),
		)
		return state, retired, nil
	}

	if lastErr == nil || (!hasVideo && !hasAudio) {
		lastErr = &domain.MediaAcquisitionError{Kind: domain.ErrNoDeviceFound, Cause: lastErr}
	}
	tracing.RecordError(ctx, lastErr)
	return s.State(), nil, lastErr
}

// hold makes tracks the held set and returns the tracks it displaced.
// Enabled flags carry over from the displaced tracks.
func (s *CaptureService) hold(profile string, tracks []ports.LocalTrack) (domain.LocalMediaState, []ports.LocalTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var video, audio ports.LocalTrack
	for _, t := range tracks {
		switch {
		case t.Kind() == domain.KindVideo && video == nil:
			video = t
		case t.Kind() == domain.KindAudio && audio == nil:
			audio = t
		default:
			t.Stop()
		}
	}

	var retired []ports.LocalTrack
	videoEnabled, audioEnabled := s.opts.StartVideoEnabled, s.opts.StartAudioEnabled
	if s.video != nil {
		videoEnabled = s.video.Enabled()
		retired = append(retired, s.video)
	}
	if s.audio != nil {
		audioEnabled = s.audio.Enabled()
		retired = append(retired, s.audio)
	}
	if video != nil {
		video.SetEnabled(videoEnabled)
	}
	if audio != nil {
		audio.SetEnabled(audioEnabled)
	}

	s.video, s.audio = video, audio
	s.profile = profile
	return s.stateLocked(), retired
}

// AcquireCameraTrack captures a camera-only track through the video rungs of
// the ladder. The returned track is not held; the caller swaps it in.
func (s *CaptureService) AcquireCameraTrack(ctx context.Context) (ports.LocalTrack, error) {
	var lastErr error
	for _, profile := range s.opts.Profiles {
		if !profile.WantsVideo() {
			continue
		}
		cameraOnly := domain.CaptureProfile{Name: profile.Name + "-camera", Video: profile.Video}

		tracks, err := s.devices.GetUserMedia(ctx, cameraOnly)
		s.metrics.ObserveAcquisition(cameraOnly.Name, err)
		if err != nil {
			lastErr = classifyAcquisition(cameraOnly.Name, err)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}

		var camera ports.LocalTrack
		for _, t := range tracks {
			if camera == nil && t.Kind() == domain.KindVideo {
				camera = t
				continue
			}
			t.Stop()
		}
		if camera != nil {
			return camera, nil
		}
	}
	if lastErr == nil {
		lastErr = &domain.MediaAcquisitionError{Kind: domain.ErrNoDeviceFound}
	}
	return nil, lastErr
}

// AcquireDisplayTrack captures the screen.
func (s *CaptureService) AcquireDisplayTrack(ctx context.Context) (ports.LocalTrack, error) {
	ctx, span := tracing.TraceMedia(ctx, "display")
	defer span.End()

	track, err := s.devices.GetDisplayMedia(ctx)
	s.metrics.ObserveAcquisition("display", err)
	if err != nil {
		err = classifyAcquisition("display", err)
		tracing.RecordError(ctx, err)
		return nil, err
	}
	return track, nil
}

// ToggleVideo flips the enabled flag of the held video track and reports the
// new value. Without a video track it does nothing and returns false.
func (s *CaptureService) ToggleVideo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.video == nil {
		return false
	}
	s.video.SetEnabled(!s.video.Enabled())
	return s.video.Enabled()
}

func (s *CaptureService) ToggleAudio() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audio == nil {
		return false
	}
	s.audio.SetEnabled(!s.audio.Enabled())
	return s.audio.Enabled()
}

// ReplaceVideoTrack swaps the held video track in one step and returns the
// previous one without stopping it.
func (s *CaptureService) ReplaceVideoTrack(track ports.LocalTrack, screenSharing bool) ports.LocalTrack {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.video
	s.video = track
	s.screenSharing = screenSharing && track != nil
	return old
}

func (s *CaptureService) VideoTrack() ports.LocalTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.video
}

// Tracks returns the held tracks, video first.
func (s *CaptureService) Tracks() []ports.LocalTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tracks := make([]ports.LocalTrack, 0, 2)
	if s.video != nil {
		tracks = append(tracks, s.video)
	}
	if s.audio != nil {
		tracks = append(tracks, s.audio)
	}
	return tracks
}

func (s *CaptureService) State() domain.LocalMediaState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stateLocked()
}

func (s *CaptureService) stateLocked() domain.LocalMediaState {
	state := domain.LocalMediaState{
		ScreenSharing: s.screenSharing,
		Profile:       s.profile,
	}
	if s.video != nil {
		state.VideoTrackPresent = true
		state.VideoEnabled = s.video.Enabled()
	}
	if s.audio != nil {
		state.AudioTrackPresent = true
		state.AudioEnabled = s.audio.Enabled()
	}
	return state
}

// Release stops every held track.
func (s *CaptureService) Release() {
	s.mu.Lock()
	video, audio := s.video, s.audio
	s.video, s.audio = nil, nil
	s.profile = ""
	s.screenSharing = false
	s.mu.Unlock()

	if video != nil {
		video.Stop()
	}
	if audio != nil {
		audio.Stop()
	}
}

// classifyAcquisition makes sure every capture failure carries a kind.
func classifyAcquisition(profile string, err error) error {
	var acqErr *domain.MediaAcquisitionError
	if errors.As(err, &acqErr) {
		if acqErr.Profile == "" {
			acqErr.Profile = profile
		}
		return acqErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("capture %s interrupted: %w", profile, err)
	}
	return &domain.MediaAcquisitionError{Profile: profile, Kind: domain.ErrDeviceBusy, Cause: err}
}
