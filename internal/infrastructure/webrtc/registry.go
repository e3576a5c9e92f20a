package webrtc

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/pkg/tracing"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// Registry owns the peer sessions of the local client, at most one per
// remote user. Sessions in a terminal state are removed as soon as the
// state is observed.
type Registry struct {
	localID domain.UserID
	factory ports.SessionFactory
	media   ports.LocalMedia
	signals ports.SignalSender
	sink    ports.RemoteMediaSink
	metrics ports.Metrics
	logger  *zap.SugaredLogger

	mu       sync.RWMutex
	sessions map[domain.UserID]*session

	subMu  sync.Mutex
	subs   map[int]func([]domain.PeerSnapshot)
	nextID int
}

type session struct {
	peerID    domain.UserID
	name      string
	role      domain.SessionRole
	conn      ports.NegotiationSession
	createdAt time.Time

	// guarded by Registry.mu
	state        domain.ConnectionState
	videoSender  ports.TrackSender
	audioSender  ports.TrackSender
	remoteTracks []domain.RemoteTrackInfo
	// signaled is set once our offer or answer has been sent; local
	// candidates gathered before that are queued.
	signaled     bool
	pendingLocal []domain.ICECandidate
	// remoteSet is set once the remote description is applied; remote
	// candidates that arrive earlier are queued.
	remoteSet     bool
	pendingRemote []webrtc.ICECandidateInit
}

type RegistryDeps struct {
	Factory ports.SessionFactory
	Media   ports.LocalMedia
	Signals ports.SignalSender
	Sink    ports.RemoteMediaSink
	Metrics ports.Metrics
}

func NewRegistry(localID domain.UserID, deps RegistryDeps, logger *zap.SugaredLogger) *Registry {
	metrics := deps.Metrics
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &Registry{
		localID:  localID,
		factory:  deps.Factory,
		media:    deps.Media,
		signals:  deps.Signals,
		sink:     deps.Sink,
		metrics:  metrics,
		logger:   logger,
		sessions: make(map[domain.UserID]*session),
		subs:     make(map[int]func([]domain.PeerSnapshot)),
	}
}

// CreateOutgoing starts a session toward peerID and sends the offer. A live
// session for the peer makes this a no-op.
func (r *Registry) CreateOutgoing(ctx context.Context, peerID domain.UserID, displayName string) error {
	tracks := r.media.Tracks()
	if len(tracks) == 0 {
		r.logger.Warnw("Cannot start session without local media", "peer_id", peerID)
		return domain.ErrLocalMediaUnavailable
	}
	if r.Has(peerID) {
		return nil
	}

	ctx, span := tracing.TraceNegotiation(ctx, "offer", string(peerID))
	defer span.End()
	start := time.Now()

	s, err := r.newSession(peerID, displayName, domain.RoleInitiator, tracks)
	if err != nil {
		r.metrics.ObserveNegotiation("offer", time.Since(start), err)
		tracing.RecordError(ctx, err)
		return err
	}

	offer, err := s.conn.CreateOffer(ctx)
	if err != nil {
		s.conn.Close()
		err = &domain.NegotiationError{PeerID: peerID, Op: "create offer", Err: err}
		r.metrics.ObserveNegotiation("offer", time.Since(start), err)
		tracing.RecordError(ctx, err)
		return err
	}

	r.mu.Lock()
	if existing, ok := r.sessions[peerID]; ok && !existing.state.Terminal() {
		// lost a race with an incoming offer or another create
		r.mu.Unlock()
		s.conn.Close()
		return nil
	}
	r.sessions[peerID] = s
	r.mu.Unlock()
	r.notify()

	r.logger.Infow("Sending offer", "peer_id", peerID)
	if err := r.signals.SendOffer(ctx, peerID, offer.SDP); err != nil {
		r.fail(s, err)
		err = &domain.NegotiationError{PeerID: peerID, Op: "send offer", Err: err}
		r.metrics.ObserveNegotiation("offer", time.Since(start), err)
		tracing.RecordError(ctx, err)
		return err
	}
	r.markSignaled(ctx, s)

	r.metrics.ObserveNegotiation("offer", time.Since(start), nil)
	return nil
}

// CreateIncoming answers an offer from peerID. An offer for a live session
// renegotiates that session. When both sides offered at once, the client
// with the larger user id keeps its own offer.
func (r *Registry) CreateIncoming(ctx context.Context, peerID domain.UserID, displayName, offerSDP string) error {
	ctx, span := tracing.TraceNegotiation(ctx, "answer", string(peerID))
	defer span.End()
	start := time.Now()

	r.mu.Lock()
	existing, ok := r.sessions[peerID]
	if ok && existing.state.Terminal() {
		ok = false
	}
	glare := ok && existing.role == domain.RoleInitiator && !existing.remoteSet
	r.mu.Unlock()

	if glare {
		if r.localID > peerID {
			r.logger.Infow("Ignoring offer that collided with ours", "peer_id", peerID)
			return nil
		}
		r.logger.Infow("Yielding to colliding offer", "peer_id", peerID)
		r.drop(existing)
		ok = false
	}

	if ok {
		err := r.answer(ctx, existing, offerSDP)
		r.metrics.ObserveNegotiation("renegotiate", time.Since(start), err)
		return err
	}

	s, err := r.newSession(peerID, displayName, domain.RoleResponder, r.media.Tracks())
	if err != nil {
		r.metrics.ObserveNegotiation("answer", time.Since(start), err)
		tracing.RecordError(ctx, err)
		return err
	}

	if err := s.conn.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}); err != nil {
		s.conn.Close()
		err = &domain.NegotiationError{PeerID: peerID, Op: "apply offer", Err: err}
		r.metrics.ObserveNegotiation("answer", time.Since(start), err)
		tracing.RecordError(ctx, err)
		return err
	}
	s.remoteSet = true

	answer, err := s.conn.CreateAnswer(ctx)
	if err != nil {
		s.conn.Close()
		err = &domain.NegotiationError{PeerID: peerID, Op: "create answer", Err: err}
		r.metrics.ObserveNegotiation("answer", time.Since(start), err)
		tracing.RecordError(ctx, err)
		return err
	}

	r.mu.Lock()
	if prev, ok := r.sessions[peerID]; ok && prev != s && !prev.state.Terminal() {
		r.mu.Unlock()
		s.conn.Close()
		return nil
	}
	r.sessions[peerID] = s
	r.mu.Unlock()
	r.notify()

	r.logger.Infow("Sending answer", "peer_id", peerID)
	if err := r.signals.SendAnswer(ctx, peerID, answer.SDP); err != nil {
		r.fail(s, err)
		err = &domain.NegotiationError{PeerID: peerID, Op: "send answer", Err: err}
		r.metrics.ObserveNegotiation("answer", time.Since(start), err)
		tracing.RecordError(ctx, err)
		return err
	}
	r.markSignaled(ctx, s)

	r.metrics.ObserveNegotiation("answer", time.Since(start), nil)
	return nil
}

// answer renegotiates an existing session.
func (r *Registry) answer(ctx context.Context, s *session, offerSDP string) error {
	if err := s.conn.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}); err != nil {
		return &domain.NegotiationError{PeerID: s.peerID, Op: "apply offer", Err: err}
	}
	r.mu.Lock()
	s.remoteSet = true
	r.mu.Unlock()
	r.flushRemote(s)

	answer, err := s.conn.CreateAnswer(ctx)
	if err != nil {
		return &domain.NegotiationError{PeerID: s.peerID, Op: "create answer", Err: err}
	}
	if err := r.signals.SendAnswer(ctx, s.peerID, answer.SDP); err != nil {
		return &domain.NegotiationError{PeerID: s.peerID, Op: "send answer", Err: err}
	}
	r.markSignaled(ctx, s)
	return nil
}

func (r *Registry) ApplyRemoteAnswer(ctx context.Context, peerID domain.UserID, answerSDP string) error {
	r.mu.RLock()
	s, ok := r.sessions[peerID]
	r.mu.RUnlock()
	if !ok {
		return domain.ErrPeerNotFound
	}

	r.mu.Lock()
	duplicate := s.remoteSet
	r.mu.Unlock()
	if duplicate {
		r.logger.Warnw("Ignoring answer for a session that already has one", "peer_id", peerID)
		return nil
	}

	if err := s.conn.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP}); err != nil {
		r.fail(s, err)
		return &domain.NegotiationError{PeerID: peerID, Op: "apply answer", Err: err}
	}

	r.mu.Lock()
	s.remoteSet = true
	r.mu.Unlock()
	r.flushRemote(s)
	return nil
}

func (r *Registry) ApplyRemoteICECandidate(ctx context.Context, peerID domain.UserID, candidate domain.ICECandidate) error {
	remote := toCandidateInit(candidate)

	r.mu.Lock()
	s, ok := r.sessions[peerID]
	if !ok {
		r.mu.Unlock()
		return domain.ErrPeerNotFound
	}
	if !s.remoteSet {
		s.pendingRemote = append(s.pendingRemote, remote)
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	if err := s.conn.AddICECandidate(remote); err != nil {
		r.logger.Warnw("Failed to add remote candidate", "peer_id", peerID, "error", err)
		return &domain.NegotiationError{PeerID: peerID, Op: "add candidate", Err: err}
	}
	return nil
}

func (r *Registry) flushRemote(s *session) {
	r.mu.Lock()
	pending := s.pendingRemote
	s.pendingRemote = nil
	r.mu.Unlock()

	for _, c := range pending {
		if err := s.conn.AddICECandidate(c); err != nil {
			r.logger.Warnw("Failed to add buffered remote candidate", "peer_id", s.peerID, "error", err)
		}
	}
}

// markSignaled releases local candidates queued before our description was
// sent.
func (r *Registry) markSignaled(ctx context.Context, s *session) {
	r.mu.Lock()
	s.signaled = true
	pending := s.pendingLocal
	s.pendingLocal = nil
	r.mu.Unlock()

	for _, c := range pending {
		if err := r.signals.SendCandidate(ctx, s.peerID, c); err != nil {
			r.logger.Warnw("Failed to send queued candidate", "peer_id", s.peerID, "error", err)
		}
	}
}

func (r *Registry) newSession(peerID domain.UserID, name string, role domain.SessionRole, tracks []ports.LocalTrack) (*session, error) {
	conn, err := r.factory.NewSession(peerID)
	if err != nil {
		return nil, &domain.NegotiationError{PeerID: peerID, Op: "create session", Err: err}
	}

	s := &session{
		peerID:    peerID,
		name:      name,
		role:      role,
		conn:      conn,
		createdAt: time.Now(),
		state:     domain.StateConnecting,
	}

	for _, t := range tracks {
		sender, err := conn.AddTrack(t.TrackLocal())
		if err != nil {
			conn.Close()
			return nil, &domain.NegotiationError{PeerID: peerID, Op: "add track", Err: err}
		}
		switch t.Kind() {
		case domain.KindVideo:
			s.videoSender = sender
		case domain.KindAudio:
			s.audioSender = sender
		}
	}

	conn.OnICECandidate(func(c *webrtc.ICECandidateInit) { r.handleLocalCandidate(s, c) })
	conn.OnConnectionStateChange(func(state domain.ConnectionState) { r.handleState(s, state) })
	conn.OnTrack(func(track ports.RemoteTrack) { r.handleTrack(s, track) })
	return s, nil
}

func (r *Registry) handleLocalCandidate(s *session, c *webrtc.ICECandidateInit) {
	if c == nil {
		return
	}
	candidate := fromCandidateInit(*c)

	r.mu.Lock()
	if !s.signaled {
		s.pendingLocal = append(s.pendingLocal, candidate)
		r.mu.Unlock()
		return
	}
	stale := r.sessions[s.peerID] != s
	r.mu.Unlock()
	if stale {
		return
	}

	if err := r.signals.SendCandidate(context.Background(), s.peerID, candidate); err != nil {
		r.logger.Warnw("Failed to send candidate", "peer_id", s.peerID, "error", err)
	}
}

func (r *Registry) handleState(s *session, state domain.ConnectionState) {
	if state == domain.StateNew {
		return
	}

	r.mu.Lock()
	if r.sessions[s.peerID] != s {
		r.mu.Unlock()
		return
	}
	prev := s.state
	if prev == state {
		r.mu.Unlock()
		return
	}
	s.state = state
	if state.Terminal() {
		delete(r.sessions, s.peerID)
		s.remoteTracks = nil
	}
	active := len(r.sessions)
	r.mu.Unlock()

	r.logger.Infow("Session state changed",
		"peer_id", s.peerID,
		"from", prev,
		"connection_state", state,
	)
	r.metrics.SessionStateChanged(prev, state)
	r.metrics.SetActiveSessions(active)
	if state.Terminal() {
		go s.conn.Close()
	}
	r.notify()
}

func (r *Registry) handleTrack(s *session, track ports.RemoteTrack) {
	info := track.Info()

	r.mu.Lock()
	if r.sessions[s.peerID] != s {
		r.mu.Unlock()
		return
	}
	s.remoteTracks = append(s.remoteTracks, info)
	r.mu.Unlock()
	r.notify()

	go r.drain(s.peerID, info, track)
}

// drain reads remote RTP until the track ends. Without a sink packets are
// discarded; reading still has to happen for RTCP feedback to flow.
func (r *Registry) drain(peerID domain.UserID, info domain.RemoteTrackInfo, track ports.RemoteTrack) {
	for {
		pkt, err := track.ReadRTP()
		if err != nil {
			r.logger.Debugw("Remote track ended", "peer_id", peerID, "track_id", info.ID, "error", err)
			return
		}
		if r.sink == nil {
			continue
		}
		if err := r.sink.WriteRTP(peerID, info, pkt); err != nil {
			r.logger.Debugw("Remote media sink rejected packet", "peer_id", peerID, "error", err)
		}
	}
}

// fail closes s after a negotiation error.
func (r *Registry) fail(s *session, err error) {
	r.logger.Errorw("Session failed", "peer_id", s.peerID, "error", err)
	r.handleState(s, domain.StateFailed)
}

// drop removes s without waiting for a state callback.
func (r *Registry) drop(s *session) bool {
	r.mu.Lock()
	if r.sessions[s.peerID] != s {
		r.mu.Unlock()
		return false
	}
	prev := s.state
	s.state = domain.StateClosed
	s.remoteTracks = nil
	delete(r.sessions, s.peerID)
	active := len(r.sessions)
	r.mu.Unlock()

	if err := s.conn.Close(); err != nil {
		r.logger.Debugw("Error closing session", "peer_id", s.peerID, "error", err)
	}
	r.metrics.SessionStateChanged(prev, domain.StateClosed)
	r.metrics.SetActiveSessions(active)
	r.notify()
	return true
}

// Remove closes the session for peerID. Removing an unknown peer is a no-op.
func (r *Registry) Remove(peerID domain.UserID) bool {
	r.mu.RLock()
	s, ok := r.sessions[peerID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if r.drop(s) {
		r.logger.Infow("Session removed", "peer_id", peerID)
		return true
	}
	return false
}

func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		r.drop(s)
	}
	if len(sessions) > 0 {
		r.logger.Infow("Closed all sessions", "count", len(sessions))
	}
}

// ReplaceOutgoingVideo swaps the video of every live session while holding
// the registry lock, so no observer sees a partially swapped set.
func (r *Registry) ReplaceOutgoingVideo(track webrtc.TrackLocal) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		swapped int
		errs    []error
	)
	for id, s := range r.sessions {
		if s.videoSender == nil {
			r.logger.Debugw("Session has no video sender", "peer_id", id)
			continue
		}
		if err := s.videoSender.ReplaceTrack(track); err != nil {
			errs = append(errs, &domain.NegotiationError{PeerID: id, Op: "replace track", Err: err})
			continue
		}
		swapped++
	}
	return swapped, errors.Join(errs...)
}

// SyncLocalMedia moves every live session onto the held tracks. Existing
// senders are swapped in place. A session that lacks a sender for a held
// track, such as one answered before media was captured, gets the track
// added and is offered again.
func (r *Registry) SyncLocalMedia(ctx context.Context) (int, error) {
	var video, audio ports.LocalTrack
	for _, t := range r.media.Tracks() {
		switch t.Kind() {
		case domain.KindVideo:
			video = t
		case domain.KindAudio:
			audio = t
		}
	}

	var (
		changed     int
		errs        []error
		renegotiate []*session
	)
	r.mu.Lock()
	for id, s := range r.sessions {
		if s.state.Terminal() {
			continue
		}
		videoChanged, videoAdded, err := syncSender(s, &s.videoSender, video)
		if err != nil {
			errs = append(errs, &domain.NegotiationError{PeerID: id, Op: "sync video", Err: err})
		}
		audioChanged, audioAdded, err := syncSender(s, &s.audioSender, audio)
		if err != nil {
			errs = append(errs, &domain.NegotiationError{PeerID: id, Op: "sync audio", Err: err})
		}
		if videoChanged || audioChanged {
			changed++
		}
		if videoAdded || audioAdded {
			renegotiate = append(renegotiate, s)
		}
	}
	r.mu.Unlock()

	for _, s := range renegotiate {
		if err := r.reoffer(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return changed, errors.Join(errs...)
}

// syncSender swaps track into *sender, or adds it when the session has no
// sender of that kind yet. Called with Registry.mu held.
func syncSender(s *session, sender *ports.TrackSender, track ports.LocalTrack) (changed, added bool, err error) {
	var local webrtc.TrackLocal
	if track != nil {
		local = track.TrackLocal()
	}
	if *sender != nil {
		if err := (*sender).ReplaceTrack(local); err != nil {
			return false, false, err
		}
		return true, false, nil
	}
	if track == nil {
		return false, false, nil
	}
	next, err := s.conn.AddTrack(local)
	if err != nil {
		return false, false, err
	}
	*sender = next
	return true, true, nil
}

// reoffer renegotiates a live session after local tracks were added to it.
func (r *Registry) reoffer(ctx context.Context, s *session) error {
	ctx, span := tracing.TraceNegotiation(ctx, "reoffer", string(s.peerID))
	defer span.End()
	start := time.Now()

	offer, err := s.conn.CreateOffer(ctx)
	if err != nil {
		err = &domain.NegotiationError{PeerID: s.peerID, Op: "create offer", Err: err}
		r.metrics.ObserveNegotiation("reoffer", time.Since(start), err)
		tracing.RecordError(ctx, err)
		return err
	}

	r.mu.Lock()
	s.remoteSet = false
	r.mu.Unlock()

	r.logger.Infow("Renegotiating session with new local media", "peer_id", s.peerID)
	if err := r.signals.SendOffer(ctx, s.peerID, offer.SDP); err != nil {
		err = &domain.NegotiationError{PeerID: s.peerID, Op: "send offer", Err: err}
		r.metrics.ObserveNegotiation("reoffer", time.Since(start), err)
		tracing.RecordError(ctx, err)
		return err
	}
	r.markSignaled(ctx, s)
	r.metrics.ObserveNegotiation("reoffer", time.Since(start), nil)
	return nil
}

func (r *Registry) Has(peerID domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[peerID]
	return ok
}

// Sessions returns a snapshot sorted by peer id.
func (r *Registry) Sessions() []domain.PeerSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.PeerSnapshot, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, domain.PeerSnapshot{
			PeerID:       s.peerID,
			DisplayName:  s.name,
			Role:         s.role,
			State:        s.state,
			RemoteTracks: append([]domain.RemoteTrackInfo(nil), s.remoteTracks...),
			Stats:        s.conn.Stats(),
			CreatedAt:    s.createdAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}

func (r *Registry) Subscribe(fn func([]domain.PeerSnapshot)) func() {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	id := r.nextID
	r.nextID++
	r.subs[id] = fn
	return func() {
		r.subMu.Lock()
		defer r.subMu.Unlock()
		delete(r.subs, id)
	}
}

func (r *Registry) notify() {
	r.subMu.Lock()
	subs := make([]func([]domain.PeerSnapshot), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.subMu.Unlock()
	if len(subs) == 0 {
		return
	}

	snap := r.Sessions()
	for _, fn := range subs {
		fn(snap)
	}
}

func toCandidateInit(c domain.ICECandidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func fromCandidateInit(c webrtc.ICECandidateInit) domain.ICECandidate {
	return domain.ICECandidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}
