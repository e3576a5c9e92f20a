package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/pkg/tracing"

	"go.uber.org/zap"
)

type PresenceConfig struct {
	RoomID   domain.RoomID
	RoomCode string
	Self     domain.User
	// SelfHealGrace is how long after connecting the local user may be
	// missing from the roster before it is inserted locally.
	SelfHealGrace time.Duration
	// ResyncInterval enables periodic get-room-members requests when > 0.
	ResyncInterval time.Duration
}

// Full-list sources, used for logging.
const (
	SourceSnapshot    = "snapshot"
	SourceJoinAck     = "join-ack"
	SourceMembersList = "members-list"
)

// PresenceService merges room membership from the REST snapshot, the join
// acknowledgement, broadcast deltas and resync replies. A full list replaces
// the working set; deltas are idempotent per user id and are only trusted once
// the current connection has seen a full list.
type PresenceService struct {
	cfg     PresenceConfig
	channel ports.SignalChannel
	api     ports.RoomAPI
	metrics ports.Metrics
	logger  *zap.SugaredLogger
	now     func() time.Time

	// notifyMu orders mutations together with their notifications.
	notifyMu sync.Mutex

	mu           sync.RWMutex
	epoch        uint64
	connected    bool
	synced       bool
	graceElapsed bool
	connectedAt  time.Time
	roomName     string
	members      map[domain.UserID]domain.RoomMember
	// incumbents are the peers the join acknowledgement of this epoch
	// listed. The local user offers to them and waits for everyone else.
	incumbents map[domain.UserID]struct{}
	ackSeen    bool
	healTimer    *time.Timer
	stopResync   context.CancelFunc

	subMu  sync.Mutex
	subs   map[int]func(domain.RosterSnapshot)
	nextID int
}

func NewPresenceService(cfg PresenceConfig, channel ports.SignalChannel, api ports.RoomAPI, metrics ports.Metrics, logger *zap.SugaredLogger) *PresenceService {
	if cfg.SelfHealGrace <= 0 {
		cfg.SelfHealGrace = 500 * time.Millisecond
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &PresenceService{
		cfg:     cfg,
		channel: channel,
		api:     api,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
		members:    make(map[domain.UserID]domain.RoomMember),
		incumbents: make(map[domain.UserID]struct{}),
		subs:    make(map[int]func(domain.RosterSnapshot)),
	}
}

// Connect starts a fresh connection epoch: state is cleared, join-room is
// emitted and a snapshot fetch runs in the background. Nothing from a
// previous epoch is carried over.
func (p *PresenceService) Connect(ctx context.Context) {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	p.mu.Lock()
	p.stopTimersLocked()
	p.epoch++
	epoch := p.epoch
	p.connected = true
	p.synced = false
	p.graceElapsed = false
	p.connectedAt = p.now()
	p.roomName = ""
	p.members = make(map[domain.UserID]domain.RoomMember)
	p.incumbents = make(map[domain.UserID]struct{})
	p.ackSeen = false
	p.healTimer = time.AfterFunc(p.cfg.SelfHealGrace, func() { p.selfHeal(epoch) })
	if p.cfg.ResyncInterval > 0 {
		resyncCtx, cancel := context.WithCancel(ctx)
		p.stopResync = cancel
		go p.resyncLoop(resyncCtx, epoch)
	}
	self := p.cfg.Self.AsMember(p.connectedAt)
	snap := p.snapshotLocked()
	p.mu.Unlock()

	p.logger.Infow("Joining room", "room_id", p.cfg.RoomID, "epoch", epoch)
	if err := p.channel.Emit(ctx, domain.JoinRoom{RoomID: p.cfg.RoomID, RoomCode: p.cfg.RoomCode, User: self}); err != nil {
		p.logger.Warnw("Failed to emit join-room", "room_id", p.cfg.RoomID, "error", err)
	}
	go p.fetchSnapshot(ctx, epoch)

	p.publish(snap)
}

// Disconnect clears the roster and invalidates any in-flight snapshot.
func (p *PresenceService) Disconnect() {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	p.mu.Lock()
	p.stopTimersLocked()
	p.epoch++
	p.connected = false
	p.synced = false
	p.roomName = ""
	p.members = make(map[domain.UserID]domain.RoomMember)
	p.incumbents = make(map[domain.UserID]struct{})
	p.ackSeen = false
	snap := p.snapshotLocked()
	p.mu.Unlock()

	p.logger.Infow("Room presence cleared", "room_id", p.cfg.RoomID)
	p.publish(snap)
}

// Leave announces the departure and clears local state.
func (p *PresenceService) Leave(ctx context.Context) {
	p.mu.RLock()
	connected := p.connected
	self := p.selfMemberLocked()
	p.mu.RUnlock()

	if connected {
		if err := p.channel.Emit(ctx, domain.LeaveRoom{RoomID: p.cfg.RoomID, User: self}); err != nil {
			p.logger.Warnw("Failed to emit leave-room", "room_id", p.cfg.RoomID, "error", err)
		}
	}
	p.Disconnect()
}

// Refresh asks the server for the member list and refetches the snapshot.
func (p *PresenceService) Refresh(ctx context.Context) error {
	p.mu.RLock()
	connected, epoch := p.connected, p.epoch
	p.mu.RUnlock()

	if !connected {
		return domain.ErrNotInRoom
	}
	if err := p.channel.Emit(ctx, domain.GetRoomMembers{RoomID: p.cfg.RoomID}); err != nil {
		return err
	}
	go p.fetchSnapshot(ctx, epoch)
	return nil
}

// ApplyFullList replaces the working set with members.
func (p *PresenceService) ApplyFullList(source, roomName string, members []domain.RoomMember) {
	p.mu.RLock()
	epoch := p.epoch
	p.mu.RUnlock()
	p.applyFullList(epoch, source, roomName, members)
}

func (p *PresenceService) applyFullList(epoch uint64, source, roomName string, members []domain.RoomMember) {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	p.mu.Lock()
	if epoch != p.epoch || !p.connected {
		p.mu.Unlock()
		p.logger.Debugw("Discarding member list from a previous connection", "source", source)
		return
	}

	next := make(map[domain.UserID]domain.RoomMember, len(members)+1)
	for _, m := range members {
		if m.UserID == "" {
			continue
		}
		next[m.UserID] = m
	}
	if _, ok := next[p.cfg.Self.ID]; !ok && p.graceElapsed {
		next[p.cfg.Self.ID] = p.cfg.Self.AsMember(p.connectedAt)
	}
	p.members = next
	p.synced = true
	if source == SourceJoinAck && !p.ackSeen {
		p.ackSeen = true
		for id := range next {
			if id != p.cfg.Self.ID {
				p.incumbents[id] = struct{}{}
			}
		}
	}
	for id := range p.incumbents {
		if _, ok := next[id]; !ok {
			delete(p.incumbents, id)
		}
	}
	if roomName != "" {
		p.roomName = roomName
	}
	snap := p.snapshotLocked()
	p.mu.Unlock()

	p.logger.Infow("Room member list applied",
		"source", source,
		"room_id", p.cfg.RoomID,
		"members", len(snap.Members),
	)
	p.publish(snap)
}

// ApplyJoin adds a member. Adding a user id that is already present changes
// nothing.
func (p *PresenceService) ApplyJoin(member domain.RoomMember) {
	if member.UserID == "" {
		return
	}
	p.mutate("join", func() bool {
		if _, ok := p.members[member.UserID]; ok {
			return false
		}
		if member.JoinedAt.IsZero() {
			member.JoinedAt = p.now()
		}
		p.members[member.UserID] = member
		return true
	})
}

// ApplyLeave removes a member. Removing an absent user, or the local user,
// changes nothing.
func (p *PresenceService) ApplyLeave(userID domain.UserID) {
	if userID == p.cfg.Self.ID {
		p.logger.Warnw("Ignoring leave notification for the local user", "user_id", userID)
		return
	}
	p.mutate("leave", func() bool {
		if _, ok := p.members[userID]; !ok {
			return false
		}
		delete(p.members, userID)
		// a rejoin is a newcomer and sends its own offer
		delete(p.incumbents, userID)
		return true
	})
}

// ApplyPresence updates online and active flags of an existing member.
func (p *PresenceService) ApplyPresence(userID domain.UserID, isOnline bool, isActive *bool) {
	p.mutate("presence", func() bool {
		m, ok := p.members[userID]
		if !ok {
			return false
		}
		before := m
		m.IsOnline = isOnline
		if isActive != nil {
			m.IsActive = *isActive
		}
		p.members[userID] = m
		return m != before
	})
}

func (p *PresenceService) ApplyTyping(userID domain.UserID, isTyping bool) {
	p.mutate("typing", func() bool {
		m, ok := p.members[userID]
		if !ok || m.IsTyping == isTyping {
			return false
		}
		m.IsTyping = isTyping
		p.members[userID] = m
		return true
	})
}

// ObservePeer adds a peer that reached us through signaling before any
// roster message named it.
func (p *PresenceService) ObservePeer(userID domain.UserID, displayName string) {
	if userID == "" || userID == p.cfg.Self.ID {
		return
	}
	p.mutate("observe", func() bool {
		if _, ok := p.members[userID]; ok {
			return false
		}
		p.members[userID] = domain.RoomMember{
			UserID:      userID,
			DisplayName: displayName,
			JoinedAt:    p.now(),
			Role:        domain.RoleMember,
			IsActive:    true,
			IsOnline:    true,
		}
		return true
	})
}

// mutate applies a delta when the roster is synced and publishes if fn
// reports a change.
func (p *PresenceService) mutate(kind string, fn func() bool) {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	p.mu.Lock()
	if !p.connected || !p.synced {
		p.mu.Unlock()
		p.logger.Debugw("Ignoring delta before member list", "delta", kind)
		p.metrics.EventDropped("unsynced_delta")
		return
	}
	if !fn() {
		p.mu.Unlock()
		return
	}
	snap := p.snapshotLocked()
	p.mu.Unlock()

	p.publish(snap)
}

func (p *PresenceService) selfHeal(epoch uint64) {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	p.mu.Lock()
	if epoch != p.epoch || !p.connected {
		p.mu.Unlock()
		return
	}
	p.graceElapsed = true
	synced := p.synced
	_, present := p.members[p.cfg.Self.ID]
	if !present {
		p.members[p.cfg.Self.ID] = p.cfg.Self.AsMember(p.connectedAt)
	}
	snap := p.snapshotLocked()
	p.mu.Unlock()

	if !synced {
		// nothing authoritative yet; ask once more
		if err := p.channel.Emit(context.Background(), domain.GetRoomMembers{RoomID: p.cfg.RoomID}); err != nil {
			p.logger.Warnw("Failed to request member list", "error", err)
		}
	}
	if !present {
		p.logger.Infow("Inserted local user into roster", "user_id", p.cfg.Self.ID)
		p.publish(snap)
	}
}

func (p *PresenceService) fetchSnapshot(ctx context.Context, epoch uint64) {
	if p.api == nil {
		return
	}
	ctx, span := tracing.TracePresence(ctx, "snapshot", string(p.cfg.RoomID))
	defer span.End()

	info, err := p.api.GetRoom(ctx, p.cfg.RoomID)
	if err != nil {
		tracing.RecordError(ctx, err)
		p.logger.Warnw("Room snapshot fetch failed", "room_id", p.cfg.RoomID, "error", err)
		return
	}
	p.applyFullList(epoch, SourceSnapshot, info.Name, info.Members)
}

func (p *PresenceService) resyncLoop(ctx context.Context, epoch uint64) {
	ticker := time.NewTicker(p.cfg.ResyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.RLock()
			current := p.epoch == epoch && p.connected
			p.mu.RUnlock()
			if !current {
				return
			}
			if err := p.channel.Emit(ctx, domain.GetRoomMembers{RoomID: p.cfg.RoomID}); err != nil {
				p.logger.Debugw("Periodic member resync failed", "error", err)
			}
		}
	}
}

func (p *PresenceService) stopTimersLocked() {
	if p.healTimer != nil {
		p.healTimer.Stop()
		p.healTimer = nil
	}
	if p.stopResync != nil {
		p.stopResync()
		p.stopResync = nil
	}
}

// Close stops timers without announcing anything.
func (p *PresenceService) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopTimersLocked()
}

func (p *PresenceService) Snapshot() domain.RosterSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshotLocked()
}

// PresentBeforeJoin reports whether userID was already in the room when the
// local user joined in the current connection. Only those peers are offered
// to; later arrivals initiate themselves.
func (p *PresenceService) PresentBeforeJoin(userID domain.UserID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.incumbents[userID]
	return ok
}

func (p *PresenceService) selfMemberLocked() domain.RoomMember {
	if m, ok := p.members[p.cfg.Self.ID]; ok {
		return m
	}
	return p.cfg.Self.AsMember(p.connectedAt)
}

func (p *PresenceService) snapshotLocked() domain.RosterSnapshot {
	members := make([]domain.RoomMember, 0, len(p.members))
	for _, m := range p.members {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool {
		if !members[i].JoinedAt.Equal(members[j].JoinedAt) {
			return members[i].JoinedAt.Before(members[j].JoinedAt)
		}
		return members[i].UserID < members[j].UserID
	})
	return domain.RosterSnapshot{
		RoomID:    p.cfg.RoomID,
		RoomName:  p.roomName,
		Connected: p.connected,
		Synced:    p.synced,
		Members:   members,
	}
}

// Subscribe registers fn for every published roster. fn must not call back
// into the mutating methods of this service.
func (p *PresenceService) Subscribe(fn func(domain.RosterSnapshot)) func() {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	return func() {
		p.subMu.Lock()
		defer p.subMu.Unlock()
		delete(p.subs, id)
	}
}

func (p *PresenceService) publish(snap domain.RosterSnapshot) {
	p.metrics.SetRosterSize(len(snap.Members))

	p.subMu.Lock()
	subs := make([]func(domain.RosterSnapshot), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.subMu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}
