package media

import (
	"context"
	"fmt"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
)

type Config struct {
	VideoBitrate int
	AudioBitrate int
	MTU          int
	StreamID     string
}

func (c Config) withDefaults() Config {
	if c.VideoBitrate <= 0 {
		c.VideoBitrate = 1_000_000
	}
	if c.AudioBitrate <= 0 {
		c.AudioBitrate = 32_000
	}
	if c.MTU <= 0 {
		c.MTU = 1200
	}
	if c.StreamID == "" {
		c.StreamID = "huddle"
	}
	return c
}

// Devices captures camera, microphone and display through mediadevices and
// encodes them with VP8 and Opus.
type Devices struct {
	config   Config
	selector *mediadevices.CodecSelector
	logger   *zap.SugaredLogger
}

var _ ports.MediaDevices = (*Devices)(nil)

func NewDevices(config Config, logger *zap.SugaredLogger) (*Devices, error) {
	config = config.withDefaults()

	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("failed to create VP8 params: %w", err)
	}
	vpxParams.BitRate = config.VideoBitrate

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("failed to create Opus params: %w", err)
	}
	opusParams.BitRate = config.AudioBitrate
	opusParams.Latency = opus.Latency20ms

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	return &Devices{
		config:   config,
		selector: selector,
		logger:   logger.With("component", "media_devices"),
	}, nil
}

// Populate registers the encoder codecs on a media engine so offers carry
// exactly what the capture pipeline produces.
func (d *Devices) Populate(engine *webrtc.MediaEngine) {
	d.selector.Populate(engine)
}

func (d *Devices) Enumerate() []domain.DeviceInfo {
	var devices []domain.DeviceInfo
	for _, info := range mediadevices.EnumerateDevices() {
		switch info.Kind {
		case mediadevices.VideoInput:
			devices = append(devices, domain.DeviceInfo{DeviceID: info.DeviceID, Kind: domain.KindVideo, Label: info.Label})
		case mediadevices.AudioInput:
			devices = append(devices, domain.DeviceInfo{DeviceID: info.DeviceID, Kind: domain.KindAudio, Label: info.Label})
		}
	}
	return devices
}

func (d *Devices) GetUserMedia(ctx context.Context, profile domain.CaptureProfile) ([]ports.LocalTrack, error) {
	constraints := mediadevices.MediaStreamConstraints{Codec: d.selector}
	if v := profile.Video; v != nil {
		constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
			if v.Width > 0 {
				c.Width = prop.Int(v.Width)
			}
			if v.Height > 0 {
				c.Height = prop.Int(v.Height)
			}
			if v.FrameRate > 0 {
				c.FrameRate = prop.Float(v.FrameRate)
			}
		}
	}
	if a := profile.Audio; a != nil {
		// No in-process echo cancellation, noise suppression or gain
		// control; processed profiles ask for voice-grade mono.
		processed := a.EchoCancellation || a.NoiseSuppression || a.AutoGainControl
		constraints.Audio = func(c *mediadevices.MediaTrackConstraints) {
			if processed {
				c.SampleRate = prop.Int(48000)
				c.ChannelCount = prop.Int(1)
			}
		}
	}

	stream, err := d.await(ctx, func() (mediadevices.MediaStream, error) {
		return mediadevices.GetUserMedia(constraints)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, Classify(profile.Name, err)
	}

	tracks := make([]ports.LocalTrack, 0, len(stream.GetTracks()))
	for _, source := range stream.GetTracks() {
		track, err := newCaptureTrack(source, d.config.StreamID, d.config.MTU, d.logger)
		if err != nil {
			for _, t := range tracks {
				t.Stop()
			}
			closeStream(stream)
			return nil, Classify(profile.Name, err)
		}
		tracks = append(tracks, track)
	}

	d.logger.Infow("Captured local media", "profile", profile.Name, "tracks", len(tracks))
	return tracks, nil
}

func (d *Devices) GetDisplayMedia(ctx context.Context) (ports.LocalTrack, error) {
	stream, err := d.await(ctx, func() (mediadevices.MediaStream, error) {
		return mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
			Video: func(c *mediadevices.MediaTrackConstraints) {},
			Codec: d.selector,
		})
	})
	if err != nil {
		return nil, err
	}

	sources := stream.GetVideoTracks()
	if len(sources) == 0 {
		closeStream(stream)
		return nil, fmt.Errorf("display capture returned no video track")
	}
	track, err := newCaptureTrack(sources[0], d.config.StreamID, d.config.MTU, d.logger)
	if err != nil {
		closeStream(stream)
		return nil, err
	}
	return track, nil
}

type streamResult struct {
	stream mediadevices.MediaStream
	err    error
}

// await runs a blocking capture call and gives up when ctx is done. A stream
// that arrives after cancellation is closed so the device is released.
func (d *Devices) await(ctx context.Context, open func() (mediadevices.MediaStream, error)) (mediadevices.MediaStream, error) {
	done := make(chan streamResult, 1)
	go func() {
		stream, err := open()
		done <- streamResult{stream: stream, err: err}
	}()

	select {
	case res := <-done:
		return res.stream, res.err
	case <-ctx.Done():
		go func() {
			if res := <-done; res.err == nil {
				closeStream(res.stream)
			}
		}()
		return nil, ctx.Err()
	}
}

func closeStream(stream mediadevices.MediaStream) {
	for _, t := range stream.GetTracks() {
		t.Close()
	}
}
