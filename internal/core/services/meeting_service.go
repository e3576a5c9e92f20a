package services

import (
	"context"
	"errors"
	"sync"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"

	"go.uber.org/zap"
)

type MeetingConfig struct {
	Self            domain.User
	RoomID          domain.RoomID
	PreferAudioOnly bool
}

// MeetingService ties presence, sessions, media and chat together for one
// room. It is the handler of the signaling channel and keeps the session set
// a subset of the roster.
type MeetingService struct {
	cfg         MeetingConfig
	channel     ports.SignalChannel
	api         ports.RoomAPI
	capture     *CaptureService
	registry    ports.PeerRegistry
	relay       *RelayService
	presence    *PresenceService
	screenShare *ScreenShareService
	chat        *ChatService
	metrics     ports.Metrics
	logger      *zap.SugaredLogger

	kickCh chan struct{}

	// mediaMu serializes re-capture with screen share start and stop.
	mediaMu sync.Mutex

	mu            sync.Mutex
	attempted     map[domain.UserID]struct{}
	lastRoomError string
	unsubscribe   []func()
}

type MeetingDeps struct {
	Channel     ports.SignalChannel
	API         ports.RoomAPI
	Capture     *CaptureService
	Registry    ports.PeerRegistry
	Relay       *RelayService
	Presence    *PresenceService
	ScreenShare *ScreenShareService
	Chat        *ChatService
	Metrics     ports.Metrics
}

func NewMeetingService(cfg MeetingConfig, deps MeetingDeps, logger *zap.SugaredLogger) *MeetingService {
	metrics := deps.Metrics
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &MeetingService{
		cfg:         cfg,
		channel:     deps.Channel,
		api:         deps.API,
		capture:     deps.Capture,
		registry:    deps.Registry,
		relay:       deps.Relay,
		presence:    deps.Presence,
		screenShare: deps.ScreenShare,
		chat:        deps.Chat,
		metrics:     metrics,
		logger:      logger,
		kickCh:      make(chan struct{}, 1),
		attempted:   make(map[domain.UserID]struct{}),
	}
}

// Start begins reconciling and captures local media. A capture failure is
// logged and leaves the client in the room without media.
func (m *MeetingService) Start(ctx context.Context) error {
	m.mu.Lock()
	m.unsubscribe = append(m.unsubscribe,
		m.presence.Subscribe(func(domain.RosterSnapshot) { m.kick() }),
		m.registry.Subscribe(func([]domain.PeerSnapshot) { m.kick() }),
	)
	m.mu.Unlock()

	go m.reconcileLoop(ctx)

	if _, err := m.AcquireMedia(ctx); err != nil {
		m.logger.Warnw("Joining without local media", "room_id", m.cfg.RoomID, "error", err)
	}
	return nil
}

// AcquireMedia (re)captures local media, moves every live session onto the
// new tracks and only then stops the old ones. It fails with
// domain.ErrScreenShareActive while the screen is shared.
func (m *MeetingService) AcquireMedia(ctx context.Context) (domain.LocalMediaState, error) {
	m.mediaMu.Lock()
	defer m.mediaMu.Unlock()

	if m.screenShare.Sharing() {
		return m.capture.State(), domain.ErrScreenShareActive
	}
	state, retired, err := m.capture.Reacquire(ctx, m.cfg.PreferAudioOnly)
	if err == nil {
		changed, syncErr := m.registry.SyncLocalMedia(ctx)
		if syncErr != nil {
			m.logger.Warnw("Some sessions did not take the new media", "error", syncErr)
		}
		if changed > 0 {
			m.logger.Infow("Sessions moved to new local media", "sessions", changed)
		}
	}
	for _, t := range retired {
		t.Stop()
	}
	m.kick()
	return state, err
}

func (m *MeetingService) OnChannelUp(ctx context.Context) {
	m.logger.Infow("Signaling channel connected", "room_id", m.cfg.RoomID)
	m.presence.Connect(ctx)
}

// OnChannelDown clears the roster and closes every session, since no session
// may outlive the room connection that admitted its peer.
func (m *MeetingService) OnChannelDown(err error) {
	m.logger.Warnw("Signaling channel lost", "room_id", m.cfg.RoomID, "error", err)

	m.presence.Disconnect()
	m.registry.CloseAll()
	m.chat.Reset()

	m.mu.Lock()
	m.attempted = make(map[domain.UserID]struct{})
	m.mu.Unlock()
}

func (m *MeetingService) OnEvent(ctx context.Context, event domain.InboundEvent) {
	switch e := event.(type) {
	case domain.JoinedRoom:
		if !e.Success {
			m.setRoomError(e.Message)
			return
		}
		m.presence.ApplyFullList(SourceJoinAck, e.RoomName, e.Members)
	case domain.MembersList:
		m.presence.ApplyFullList(SourceMembersList, "", e.Members)
	case domain.MemberJoined:
		m.presence.ApplyJoin(e.Member)
	case domain.MemberLeft:
		m.presence.ApplyLeave(e.UserID)
		if e.UserID != m.cfg.Self.ID && m.registry.Remove(e.UserID) {
			m.logger.Infow("Closed session of departed member", "peer_id", e.UserID)
		}
	case domain.PresenceChanged:
		m.presence.ApplyPresence(e.UserID, e.IsOnline, e.IsActive)
	case domain.TypingChanged:
		m.presence.ApplyTyping(e.UserID, e.IsTyping)
	case domain.ChatReceived:
		m.chat.Receive(ctx, e.Message)
	case domain.ChatHistory:
		m.chat.ReceiveHistory(ctx, e.Messages)
	case domain.RoomError:
		m.setRoomError(e.Message)
	case domain.SignalReceived:
		if e.FromUserID == m.cfg.Self.ID {
			m.metrics.EventDropped("self_signal")
			return
		}
		if e.Signal.Type == domain.SignalOffer {
			m.presence.ObservePeer(e.FromUserID, e.FromUserName)
		}
		m.relay.Dispatch(ctx, e, m.registry)
	default:
		m.metrics.EventDropped("unhandled")
		m.logger.Warnw("Unhandled event", "event", event.Name())
	}
}

func (m *MeetingService) setRoomError(message string) {
	m.mu.Lock()
	m.lastRoomError = message
	m.mu.Unlock()
	m.logger.Errorw("Room error", "room_id", m.cfg.RoomID, "message", message)
}

func (m *MeetingService) kick() {
	select {
	case m.kickCh <- struct{}{}:
	default:
	}
}

func (m *MeetingService) reconcileLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.kickCh:
			m.reconcile(ctx)
		}
	}
}

// reconcile closes sessions of peers no longer in the roster and offers to
// peers this client must initiate toward. Each peer gets one outgoing
// attempt per presence in the room.
func (m *MeetingService) reconcile(ctx context.Context) {
	// sessions before roster, so a session created for an observed peer is
	// never judged against an older roster
	sessions := m.registry.Sessions()
	roster := m.presence.Snapshot()
	if !roster.Connected {
		for _, s := range sessions {
			m.registry.Remove(s.PeerID)
		}
		return
	}
	if !roster.Synced {
		return
	}

	inRoster := make(map[domain.UserID]bool, len(roster.Members))
	for _, member := range roster.Members {
		inRoster[member.UserID] = true
	}

	for _, s := range sessions {
		if !inRoster[s.PeerID] {
			m.logger.Infow("Closing session of peer outside the room", "peer_id", s.PeerID)
			m.registry.Remove(s.PeerID)
		}
	}

	m.mu.Lock()
	for id := range m.attempted {
		if !inRoster[id] {
			delete(m.attempted, id)
		}
	}
	m.mu.Unlock()

	if len(m.capture.Tracks()) == 0 {
		return
	}

	for _, member := range roster.Members {
		if member.UserID == m.cfg.Self.ID || m.registry.Has(member.UserID) {
			continue
		}
		if !m.presence.PresentBeforeJoin(member.UserID) {
			continue
		}

		m.mu.Lock()
		_, tried := m.attempted[member.UserID]
		if !tried {
			m.attempted[member.UserID] = struct{}{}
		}
		m.mu.Unlock()
		if tried {
			continue
		}

		if err := m.registry.CreateOutgoing(ctx, member.UserID, member.DisplayName); err != nil {
			m.logger.Errorw("Failed to start session", "peer_id", member.UserID, "error", err)
		}
	}
}

func (m *MeetingService) ToggleVideo() bool { return m.capture.ToggleVideo() }
func (m *MeetingService) ToggleAudio() bool { return m.capture.ToggleAudio() }

func (m *MeetingService) StartScreenShare(ctx context.Context) error {
	m.mediaMu.Lock()
	defer m.mediaMu.Unlock()
	return m.screenShare.Start(ctx)
}

func (m *MeetingService) StopScreenShare(ctx context.Context) error {
	m.mediaMu.Lock()
	defer m.mediaMu.Unlock()
	return m.screenShare.Stop(ctx)
}

func (m *MeetingService) SendChat(ctx context.Context, text string) error {
	return m.chat.SendMessage(ctx, text)
}

func (m *MeetingService) SetTyping(ctx context.Context, typing bool) error {
	return m.chat.SetTyping(ctx, typing)
}

// Leave runs the full departure: share stopped, leave announced, sessions
// closed, media released, backend told, session logged out.
func (m *MeetingService) Leave(ctx context.Context) error {
	if err := m.screenShare.Stop(ctx); err != nil {
		m.logger.Warnw("Failed to stop screen share on leave", "error", err)
	}
	m.presence.Leave(ctx)
	m.registry.CloseAll()
	m.capture.Release()

	var errs []error
	if m.api != nil {
		if err := m.api.LeaveRoom(ctx, m.cfg.RoomID); err != nil {
			m.logger.Warnw("Backend leave failed", "room_id", m.cfg.RoomID, "error", err)
			errs = append(errs, err)
		}
		if err := m.api.Logout(ctx); err != nil {
			m.logger.Warnw("Logout failed", "error", err)
			errs = append(errs, err)
		}
	}
	m.logger.Infow("Left room", "room_id", m.cfg.RoomID)
	return errors.Join(errs...)
}

// Close stops observing presence and sessions.
func (m *MeetingService) Close() {
	m.mu.Lock()
	unsubs := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()

	for _, fn := range unsubs {
		fn()
	}
	m.presence.Close()
}

func (m *MeetingService) Roster() domain.RosterSnapshot    { return m.presence.Snapshot() }
func (m *MeetingService) Sessions() []domain.PeerSnapshot  { return m.registry.Sessions() }
func (m *MeetingService) Media() domain.LocalMediaState    { return m.capture.State() }
func (m *MeetingService) ChannelConnected() bool           { return m.channel.Connected() }
func (m *MeetingService) Resync(ctx context.Context) error { return m.presence.Refresh(ctx) }

func (m *MeetingService) LastRoomError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRoomError
}

func (m *MeetingService) Messages(ctx context.Context) ([]domain.ChatMessage, error) {
	return m.chat.History(ctx)
}
