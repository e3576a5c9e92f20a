package services

import (
	"context"
	"errors"
	"testing"

	"huddle/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestCapture(t *testing.T, devices *fakeDevices) *CaptureService {
	return NewCaptureService(devices, DefaultCaptureOptions(), nil, zaptest.NewLogger(t).Sugar())
}

func TestCaptureService_AcquireBestProfile(t *testing.T) {
	devices := newFakeDevices(t, domain.KindVideo, domain.KindAudio)
	capture := newTestCapture(t, devices)

	state, err := capture.Acquire(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, []string{"hd"}, devices.Attempts())
	assert.Equal(t, domain.LocalMediaState{
		VideoTrackPresent: true,
		AudioTrackPresent: true,
		VideoEnabled:      true,
		AudioEnabled:      true,
		Profile:           "hd",
	}, state)
	assert.Len(t, capture.Tracks(), 2)
	assert.Equal(t, domain.KindVideo, capture.Tracks()[0].Kind())
}

func TestCaptureService_OverconstrainedFallsBack(t *testing.T) {
	devices := newFakeDevices(t, domain.KindVideo, domain.KindAudio)
	devices.fail["hd"] = &domain.MediaAcquisitionError{Kind: domain.ErrConstraintsUnsupported}
	capture := newTestCapture(t, devices)

	state, err := capture.Acquire(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, []string{"hd", "sd"}, devices.Attempts())
	assert.Equal(t, "sd", state.Profile)
	assert.True(t, state.VideoTrackPresent)
}

func TestCaptureService_PreferAudioOnly(t *testing.T) {
	devices := newFakeDevices(t, domain.KindVideo, domain.KindAudio)
	capture := newTestCapture(t, devices)

	state, err := capture.Acquire(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, []string{"audio-only"}, devices.Attempts())
	assert.False(t, state.VideoTrackPresent)
	assert.True(t, state.AudioTrackPresent)
}

func TestCaptureService_SkipsProfilesWithoutDevices(t *testing.T) {
	devices := newFakeDevices(t, domain.KindAudio)
	capture := newTestCapture(t, devices)

	state, err := capture.Acquire(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, []string{"audio-only"}, devices.Attempts())
	assert.Equal(t, "audio-only", state.Profile)
}

func TestCaptureService_NoDeviceFound(t *testing.T) {
	devices := newFakeDevices(t)
	for _, p := range domain.DefaultCaptureProfiles() {
		devices.fail[p.Name] = errBoom
	}
	capture := newTestCapture(t, devices)

	state, err := capture.Acquire(context.Background(), false)
	require.Error(t, err)

	assert.True(t, errors.Is(err, domain.ErrNoDeviceFound))
	assert.Len(t, devices.Attempts(), len(domain.DefaultCaptureProfiles()))
	assert.False(t, state.VideoTrackPresent)
	assert.False(t, state.AudioTrackPresent)
}

func TestCaptureService_ReportsLastFailureKind(t *testing.T) {
	devices := newFakeDevices(t, domain.KindVideo, domain.KindAudio)
	denied := &domain.MediaAcquisitionError{Kind: domain.ErrPermissionDenied}
	for _, p := range domain.DefaultCaptureProfiles() {
		devices.fail[p.Name] = denied
	}
	capture := newTestCapture(t, devices)

	_, err := capture.Acquire(context.Background(), false)
	require.Error(t, err)

	assert.True(t, errors.Is(err, domain.ErrPermissionDenied))
	assert.False(t, errors.Is(err, domain.ErrNoDeviceFound))
}

func TestCaptureService_UnclassifiedErrorIsDeviceBusy(t *testing.T) {
	devices := newFakeDevices(t, domain.KindAudio)
	devices.fail["audio-only"] = errBoom
	devices.fail["audio-raw"] = errBoom
	capture := newTestCapture(t, devices)

	_, err := capture.Acquire(context.Background(), false)
	require.Error(t, err)

	var acqErr *domain.MediaAcquisitionError
	require.True(t, errors.As(err, &acqErr))
	assert.Equal(t, "audio-raw", acqErr.Profile)
	assert.True(t, errors.Is(err, domain.ErrDeviceBusy))
	assert.True(t, errors.Is(err, errBoom))
}

func TestCaptureService_Toggle(t *testing.T) {
	devices := newFakeDevices(t, domain.KindVideo, domain.KindAudio)
	capture := newTestCapture(t, devices)

	assert.False(t, capture.ToggleVideo(), "toggle without a track is a no-op")

	_, err := capture.Acquire(context.Background(), false)
	require.NoError(t, err)

	assert.False(t, capture.ToggleVideo())
	assert.False(t, capture.State().VideoEnabled)
	assert.True(t, capture.State().VideoTrackPresent)
	assert.False(t, capture.VideoTrack().(*fakeTrack).Stopped(), "disabled track keeps capturing")

	assert.False(t, capture.ToggleAudio())
	assert.True(t, capture.ToggleAudio())
	assert.True(t, capture.State().AudioEnabled)
}

func TestCaptureService_StartDisabled(t *testing.T) {
	devices := newFakeDevices(t, domain.KindVideo, domain.KindAudio)
	opts := DefaultCaptureOptions()
	opts.StartVideoEnabled = false
	capture := NewCaptureService(devices, opts, nil, zaptest.NewLogger(t).Sugar())

	state, err := capture.Acquire(context.Background(), false)
	require.NoError(t, err)

	assert.False(t, state.VideoEnabled)
	assert.True(t, state.AudioEnabled)
}

func TestCaptureService_ReacquireReleasesPrevious(t *testing.T) {
	devices := newFakeDevices(t, domain.KindVideo, domain.KindAudio)
	capture := newTestCapture(t, devices)

	_, err := capture.Acquire(context.Background(), false)
	require.NoError(t, err)
	first := capture.Tracks()

	_, err = capture.Acquire(context.Background(), false)
	require.NoError(t, err)

	for _, tr := range first {
		assert.True(t, tr.(*fakeTrack).Stopped())
	}
	assert.Len(t, capture.Tracks(), 2)

	capture.Release()
	assert.Empty(t, capture.Tracks())
	assert.Equal(t, domain.LocalMediaState{}, capture.State())
}

func TestCaptureService_ReacquireHandsBackLiveTracks(t *testing.T) {
	devices := newFakeDevices(t, domain.KindVideo, domain.KindAudio)
	capture := newTestCapture(t, devices)
	ctx := context.Background()

	_, retired, err := capture.Reacquire(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, retired)
	first := capture.Tracks()

	_, retired, err = capture.Reacquire(ctx, true)
	require.NoError(t, err)
	assert.ElementsMatch(t, first, retired)
	for _, tr := range retired {
		assert.False(t, tr.(*fakeTrack).Stopped(), tr.ID())
	}
	// audio-only capture leaves no video behind
	assert.Nil(t, capture.VideoTrack())
	assert.Len(t, capture.Tracks(), 1)
}

func TestCaptureService_ReacquireRefusedWhileSharing(t *testing.T) {
	devices := newFakeDevices(t, domain.KindVideo, domain.KindAudio)
	capture := newTestCapture(t, devices)
	ctx := context.Background()
	_, err := capture.Acquire(ctx, false)
	require.NoError(t, err)

	display, err := capture.AcquireDisplayTrack(ctx)
	require.NoError(t, err)
	camera := capture.ReplaceVideoTrack(display, true)
	attempts := len(devices.Attempts())

	state, retired, err := capture.Reacquire(ctx, false)
	require.ErrorIs(t, err, domain.ErrScreenShareActive)
	assert.Nil(t, retired)
	assert.True(t, state.ScreenSharing)
	assert.Same(t, display, capture.VideoTrack())
	assert.Len(t, devices.Attempts(), attempts)
	assert.False(t, camera.(*fakeTrack).Stopped())
}

func TestCaptureService_AcquireCameraTrack(t *testing.T) {
	devices := newFakeDevices(t, domain.KindVideo, domain.KindAudio)
	devices.fail["hd-camera"] = &domain.MediaAcquisitionError{Kind: domain.ErrConstraintsUnsupported}
	capture := newTestCapture(t, devices)

	camera, err := capture.AcquireCameraTrack(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.KindVideo, camera.Kind())
	assert.Equal(t, []string{"hd-camera", "sd-camera"}, devices.Attempts())
	assert.Nil(t, capture.VideoTrack(), "camera track is not held until swapped in")
}
