package webrtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// SessionConfig configures every peer connection built by the factory.
type SessionConfig struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

// CodecConfigurer registers the encoders used by local capture, so that the
// negotiated codecs match what is actually produced.
type CodecConfigurer interface {
	Populate(engine *webrtc.MediaEngine)
}

// PionSessionFactory builds pion peer connections.
type PionSessionFactory struct {
	config SessionConfig
	codecs CodecConfigurer
	logger *zap.SugaredLogger
}

func NewPionSessionFactory(config SessionConfig, codecs CodecConfigurer, logger *zap.SugaredLogger) *PionSessionFactory {
	return &PionSessionFactory{
		config: config,
		codecs: codecs,
		logger: logger,
	}
}

func (f *PionSessionFactory) NewSession(peerID domain.UserID) (ports.NegotiationSession, error) {
	api, err := f.newAPI()
	if err != nil {
		return nil, err
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: f.config.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	return &pionSession{
		peerID: peerID,
		pc:     pc,
		logger: f.logger.With("peer_id", peerID),
	}, nil
}

func (f *PionSessionFactory) newAPI() (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if f.codecs != nil {
		f.codecs.Populate(mediaEngine)
	} else if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	settingEngine := webrtc.SettingEngine{}
	if f.config.PortRange.Min > 0 && f.config.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(f.config.PortRange.Min, f.config.PortRange.Max); err != nil {
			return nil, fmt.Errorf("invalid port range: %w", err)
		}
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithSettingEngine(settingEngine),
		webrtc.WithInterceptorRegistry(registry),
	), nil
}

type pionSession struct {
	peerID domain.UserID
	pc     *webrtc.PeerConnection
	logger *zap.SugaredLogger

	mu    sync.Mutex
	stats domain.LinkStats
}

func (s *pionSession) AddTrack(track webrtc.TrackLocal) (ports.TrackSender, error) {
	sender, err := s.pc.AddTrack(track)
	if err != nil {
		return nil, err
	}
	go s.readSenderRTCP(sender)
	return sender, nil
}

func (s *pionSession) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, ctx.Err()
}

func (s *pionSession) CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, ctx.Err()
}

func (s *pionSession) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return s.pc.SetRemoteDescription(desc)
}

func (s *pionSession) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return s.pc.AddICECandidate(candidate)
}

func (s *pionSession) OnICECandidate(fn func(*webrtc.ICECandidateInit)) {
	s.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			fn(nil)
			return
		}
		candidate := c.ToJSON()
		fn(&candidate)
	})
}

func (s *pionSession) OnConnectionStateChange(fn func(domain.ConnectionState)) {
	s.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.logger.Debugw("Peer connection state changed", "connection_state", state.String())
		mapped, ok := mapConnectionState(state)
		if !ok {
			return
		}
		fn(mapped)
	})
}

// mapConnectionState folds pion states into the session lifecycle.
// Disconnected is transient: ICE may recover on its own.
func mapConnectionState(state webrtc.PeerConnectionState) (domain.ConnectionState, bool) {
	switch state {
	case webrtc.PeerConnectionStateNew:
		return domain.StateNew, true
	case webrtc.PeerConnectionStateConnecting:
		return domain.StateConnecting, true
	case webrtc.PeerConnectionStateConnected:
		return domain.StateConnected, true
	case webrtc.PeerConnectionStateFailed:
		return domain.StateFailed, true
	case webrtc.PeerConnectionStateClosed:
		return domain.StateClosed, true
	default:
		return "", false
	}
}

func (s *pionSession) OnTrack(fn func(ports.RemoteTrack)) {
	s.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		s.logger.Infow("Remote track received",
			"track_id", track.ID(),
			"kind", track.Kind().String(),
			"codec", track.Codec().MimeType,
		)
		go s.readReceiverRTCP(receiver)
		fn(&pionRemoteTrack{track: track})
	})
}

func (s *pionSession) Stats() domain.LinkStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *pionSession) Close() error {
	return s.pc.Close()
}

// readSenderRTCP drains RTCP for an outgoing track so interceptors run, and
// folds receiver reports from the peer into the link stats.
func (s *pionSession) readSenderRTCP(sender *webrtc.RTPSender) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		s.processRTCP(packets)
	}
}

func (s *pionSession) readReceiverRTCP(receiver *webrtc.RTPReceiver) {
	for {
		if _, _, err := receiver.ReadRTCP(); err != nil {
			return
		}
	}
}

func (s *pionSession) processRTCP(packets []rtcp.Packet) {
	var (
		fractionLost float64
		jitter       uint32
		lost         int64
		reports      int
	)
	for _, packet := range packets {
		switch p := packet.(type) {
		case *rtcp.ReceiverReport:
			for _, report := range p.Reports {
				fractionLost += float64(report.FractionLost) / 256.0
				jitter += report.Jitter
				lost += int64(report.TotalLost)
				reports++
			}
		case *rtcp.PictureLossIndication:
			s.logger.Debugw("Received PLI")
		}
	}
	if reports == 0 {
		return
	}

	s.mu.Lock()
	s.stats = domain.LinkStats{
		FractionLost: fractionLost / float64(reports),
		Jitter:       jitter / uint32(reports),
		PacketsLost:  lost,
		UpdatedAt:    time.Now(),
	}
	s.mu.Unlock()
}

type pionRemoteTrack struct {
	track *webrtc.TrackRemote
}

func (t *pionRemoteTrack) Info() domain.RemoteTrackInfo {
	kind := domain.KindVideo
	if t.track.Kind() == webrtc.RTPCodecTypeAudio {
		kind = domain.KindAudio
	}
	return domain.RemoteTrackInfo{
		ID:       t.track.ID(),
		StreamID: t.track.StreamID(),
		Kind:     kind,
		Codec:    t.track.Codec().MimeType,
	}
}

func (t *pionRemoteTrack) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := t.track.ReadRTP()
	return pkt, err
}
