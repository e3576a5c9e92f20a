package domain

// LocalMediaState mirrors the tracks held by the capture manager.
type LocalMediaState struct {
	VideoTrackPresent bool   `json:"videoTrackPresent"`
	AudioTrackPresent bool   `json:"audioTrackPresent"`
	VideoEnabled      bool   `json:"videoEnabled"`
	AudioEnabled      bool   `json:"audioEnabled"`
	ScreenSharing     bool   `json:"screenSharing"`
	Profile           string `json:"profile,omitempty"`
}

type VideoConstraints struct {
	Width     int
	Height    int
	FrameRate float64
}

type AudioConstraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// CaptureProfile is one rung of the constraint ladder. A nil section means the
// kind is not requested; a zero VideoConstraints means any resolution.
type CaptureProfile struct {
	Name  string
	Video *VideoConstraints
	Audio *AudioConstraints
}

func (p CaptureProfile) WantsVideo() bool { return p.Video != nil }
func (p CaptureProfile) WantsAudio() bool { return p.Audio != nil }

// DefaultCaptureProfiles returns the ladder from best quality down to plain audio.
func DefaultCaptureProfiles() []CaptureProfile {
	processed := &AudioConstraints{EchoCancellation: true, NoiseSuppression: true, AutoGainControl: true}
	return []CaptureProfile{
		{Name: "hd", Video: &VideoConstraints{Width: 1280, Height: 720, FrameRate: 30}, Audio: processed},
		{Name: "sd", Video: &VideoConstraints{Width: 640, Height: 480, FrameRate: 15}, Audio: processed},
		{Name: "basic", Video: &VideoConstraints{}, Audio: &AudioConstraints{}},
		{Name: "video-only", Video: &VideoConstraints{}},
		{Name: "audio-only", Audio: processed},
		{Name: "audio-raw", Audio: &AudioConstraints{}},
	}
}

type DeviceInfo struct {
	DeviceID string
	Kind     TrackKind
	Label    string
}

// HasKind reports whether any enumerated device produces the given kind.
func HasKind(devices []DeviceInfo, kind TrackKind) bool {
	for _, d := range devices {
		if d.Kind == kind {
			return true
		}
	}
	return false
}
