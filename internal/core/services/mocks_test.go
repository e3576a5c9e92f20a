package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/mock"
)

// fakeTrack is a capture track that records lifecycle calls.
type fakeTrack struct {
	id    string
	kind  domain.TrackKind
	local webrtc.TrackLocal

	mu      sync.Mutex
	enabled bool
	stopped bool
	onEnded func()
}

func newFakeTrack(t *testing.T, id string, kind domain.TrackKind) *fakeTrack {
	t.Helper()
	mime := webrtc.MimeTypeVP8
	if kind == domain.KindAudio {
		mime = webrtc.MimeTypeOpus
	}
	local, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: mime}, id, "huddle-test")
	if err != nil {
		t.Fatalf("failed to create local track: %v", err)
	}
	return &fakeTrack{id: id, kind: kind, local: local, enabled: true}
}

func (f *fakeTrack) ID() string                    { return f.id }
func (f *fakeTrack) Kind() domain.TrackKind        { return f.kind }
func (f *fakeTrack) TrackLocal() webrtc.TrackLocal { return f.local }

func (f *fakeTrack) Enabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

func (f *fakeTrack) SetEnabled(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = enabled
}

func (f *fakeTrack) OnEnded(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onEnded = fn
}

func (f *fakeTrack) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeTrack) Stopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

// End simulates the OS ending the capture.
func (f *fakeTrack) End() {
	f.mu.Lock()
	fn := f.onEnded
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// fakeDevices answers GetUserMedia per profile name.
type fakeDevices struct {
	t       *testing.T
	devices []domain.DeviceInfo
	fail    map[string]error
	display error

	mu       sync.Mutex
	attempts []string
	tracks   []*fakeTrack
}

func newFakeDevices(t *testing.T, kinds ...domain.TrackKind) *fakeDevices {
	d := &fakeDevices{t: t, fail: make(map[string]error)}
	for i, k := range kinds {
		d.devices = append(d.devices, domain.DeviceInfo{DeviceID: string(k) + "-" + string(rune('0'+i)), Kind: k, Label: string(k)})
	}
	return d
}

func (d *fakeDevices) Enumerate() []domain.DeviceInfo { return d.devices }

func (d *fakeDevices) GetUserMedia(_ context.Context, profile domain.CaptureProfile) ([]ports.LocalTrack, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts = append(d.attempts, profile.Name)
	if err, ok := d.fail[profile.Name]; ok {
		return nil, err
	}
	var out []ports.LocalTrack
	if profile.WantsVideo() {
		tr := newFakeTrack(d.t, profile.Name+"-video", domain.KindVideo)
		d.tracks = append(d.tracks, tr)
		out = append(out, tr)
	}
	if profile.WantsAudio() {
		tr := newFakeTrack(d.t, profile.Name+"-audio", domain.KindAudio)
		d.tracks = append(d.tracks, tr)
		out = append(out, tr)
	}
	return out, nil
}

func (d *fakeDevices) GetDisplayMedia(context.Context) (ports.LocalTrack, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts = append(d.attempts, "display")
	if d.display != nil {
		return nil, d.display
	}
	tr := newFakeTrack(d.t, "screen", domain.KindVideo)
	d.tracks = append(d.tracks, tr)
	return tr, nil
}

func (d *fakeDevices) Attempts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.attempts...)
}

// fakeChannel records every emitted event.
type fakeChannel struct {
	mu        sync.Mutex
	events    []domain.OutboundEvent
	err       error
	connected bool
}

func newFakeChannel() *fakeChannel { return &fakeChannel{connected: true} }

func (c *fakeChannel) Emit(_ context.Context, event domain.OutboundEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, event)
	return nil
}

func (c *fakeChannel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeChannel) Events() []domain.OutboundEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.OutboundEvent(nil), c.events...)
}

// Named returns the emitted events with the given name.
func (c *fakeChannel) Named(name domain.EventName) []domain.OutboundEvent {
	var out []domain.OutboundEvent
	for _, e := range c.Events() {
		if e.Name() == name {
			out = append(out, e)
		}
	}
	return out
}

type MockRoomAPI struct {
	mock.Mock
}

func (m *MockRoomAPI) GetRoom(ctx context.Context, roomID domain.RoomID) (*domain.RoomInfo, error) {
	args := m.Called(ctx, roomID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RoomInfo), args.Error(1)
}

func (m *MockRoomAPI) LeaveRoom(ctx context.Context, roomID domain.RoomID) error {
	args := m.Called(ctx, roomID)
	return args.Error(0)
}

func (m *MockRoomAPI) Logout(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MockPeerRegistry struct {
	mock.Mock
}

func (m *MockPeerRegistry) CreateOutgoing(ctx context.Context, peerID domain.UserID, displayName string) error {
	args := m.Called(ctx, peerID, displayName)
	return args.Error(0)
}

func (m *MockPeerRegistry) CreateIncoming(ctx context.Context, peerID domain.UserID, displayName, offerSDP string) error {
	args := m.Called(ctx, peerID, displayName, offerSDP)
	return args.Error(0)
}

func (m *MockPeerRegistry) ApplyRemoteAnswer(ctx context.Context, peerID domain.UserID, answerSDP string) error {
	args := m.Called(ctx, peerID, answerSDP)
	return args.Error(0)
}

func (m *MockPeerRegistry) ApplyRemoteICECandidate(ctx context.Context, peerID domain.UserID, candidate domain.ICECandidate) error {
	args := m.Called(ctx, peerID, candidate)
	return args.Error(0)
}

func (m *MockPeerRegistry) Remove(peerID domain.UserID) bool {
	args := m.Called(peerID)
	return args.Bool(0)
}

func (m *MockPeerRegistry) CloseAll() {
	m.Called()
}

func (m *MockPeerRegistry) ReplaceOutgoingVideo(track webrtc.TrackLocal) (int, error) {
	args := m.Called(track)
	return args.Int(0), args.Error(1)
}

func (m *MockPeerRegistry) SyncLocalMedia(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockPeerRegistry) Has(peerID domain.UserID) bool {
	args := m.Called(peerID)
	return args.Bool(0)
}

func (m *MockPeerRegistry) Sessions() []domain.PeerSnapshot {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]domain.PeerSnapshot)
}

func (m *MockPeerRegistry) Subscribe(fn func([]domain.PeerSnapshot)) func() {
	m.Called(fn)
	return func() {}
}

// fakeRegistry is a stateful registry that records outgoing media swaps and
// session creation without any networking.
type fakeRegistry struct {
	// media, when set, is read by SyncLocalMedia.
	media ports.LocalMedia

	mu        sync.Mutex
	sessions  map[domain.UserID]domain.PeerSnapshot
	video     webrtc.TrackLocal
	audio     webrtc.TrackLocal
	swaps     int
	syncs     int
	outgoing  []domain.UserID
	incoming  []domain.UserID
	createErr error
	subs      []func([]domain.PeerSnapshot)
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{sessions: make(map[domain.UserID]domain.PeerSnapshot)}
}

func (r *fakeRegistry) CreateOutgoing(_ context.Context, peerID domain.UserID, name string) error {
	r.mu.Lock()
	r.outgoing = append(r.outgoing, peerID)
	if r.createErr != nil {
		r.mu.Unlock()
		return r.createErr
	}
	if _, ok := r.sessions[peerID]; ok {
		r.mu.Unlock()
		return nil
	}
	r.sessions[peerID] = domain.PeerSnapshot{PeerID: peerID, DisplayName: name, Role: domain.RoleInitiator, State: domain.StateConnecting, CreatedAt: time.Now()}
	r.mu.Unlock()
	r.notify()
	return nil
}

func (r *fakeRegistry) CreateIncoming(_ context.Context, peerID domain.UserID, name, _ string) error {
	r.mu.Lock()
	r.incoming = append(r.incoming, peerID)
	r.sessions[peerID] = domain.PeerSnapshot{PeerID: peerID, DisplayName: name, Role: domain.RoleResponder, State: domain.StateConnecting, CreatedAt: time.Now()}
	r.mu.Unlock()
	r.notify()
	return nil
}

func (r *fakeRegistry) ApplyRemoteAnswer(_ context.Context, peerID domain.UserID, _ string) error {
	return r.requireSession(peerID)
}

func (r *fakeRegistry) ApplyRemoteICECandidate(_ context.Context, peerID domain.UserID, _ domain.ICECandidate) error {
	return r.requireSession(peerID)
}

func (r *fakeRegistry) requireSession(peerID domain.UserID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[peerID]; !ok {
		return domain.ErrPeerNotFound
	}
	return nil
}

func (r *fakeRegistry) Remove(peerID domain.UserID) bool {
	r.mu.Lock()
	_, ok := r.sessions[peerID]
	delete(r.sessions, peerID)
	r.mu.Unlock()
	if ok {
		r.notify()
	}
	return ok
}

func (r *fakeRegistry) CloseAll() {
	r.mu.Lock()
	r.sessions = make(map[domain.UserID]domain.PeerSnapshot)
	r.mu.Unlock()
	r.notify()
}

func (r *fakeRegistry) ReplaceOutgoingVideo(track webrtc.TrackLocal) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.video = track
	r.swaps++
	return len(r.sessions), nil
}

func (r *fakeRegistry) SyncLocalMedia(context.Context) (int, error) {
	var tracks []ports.LocalTrack
	if r.media != nil {
		tracks = r.media.Tracks()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.video, r.audio = nil, nil
	for _, t := range tracks {
		switch t.Kind() {
		case domain.KindVideo:
			r.video = t.TrackLocal()
		case domain.KindAudio:
			r.audio = t.TrackLocal()
		}
	}
	r.syncs++
	return len(r.sessions), nil
}

func (r *fakeRegistry) Has(peerID domain.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[peerID]
	return ok
}

func (r *fakeRegistry) Sessions() []domain.PeerSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.PeerSnapshot, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}

func (r *fakeRegistry) Subscribe(fn func([]domain.PeerSnapshot)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, fn)
	return func() {}
}

func (r *fakeRegistry) notify() {
	r.mu.Lock()
	subs := append([]func([]domain.PeerSnapshot){}, r.subs...)
	r.mu.Unlock()
	snap := r.Sessions()
	for _, fn := range subs {
		fn(snap)
	}
}

func (r *fakeRegistry) Outgoing() []domain.UserID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.UserID(nil), r.outgoing...)
}

func (r *fakeRegistry) Incoming() []domain.UserID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.UserID(nil), r.incoming...)
}

func (r *fakeRegistry) Video() webrtc.TrackLocal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.video
}

func (r *fakeRegistry) Audio() webrtc.TrackLocal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.audio
}

func (r *fakeRegistry) Syncs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.syncs
}

// memoryMessages is a minimal MessageRepository.
type memoryMessages struct {
	mu   sync.Mutex
	msgs map[domain.RoomID][]domain.ChatMessage
	err  error
}

func newMemoryMessages() *memoryMessages {
	return &memoryMessages{msgs: make(map[domain.RoomID][]domain.ChatMessage)}
}

func (m *memoryMessages) Append(_ context.Context, roomID domain.RoomID, msg domain.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, existing := range m.msgs[roomID] {
		if existing.ID == msg.ID {
			return nil
		}
	}
	m.msgs[roomID] = append(m.msgs[roomID], msg)
	return nil
}

func (m *memoryMessages) Replace(_ context.Context, roomID domain.RoomID, msgs []domain.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs[roomID] = append([]domain.ChatMessage(nil), msgs...)
	return nil
}

func (m *memoryMessages) List(_ context.Context, roomID domain.RoomID, limit int) ([]domain.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.msgs[roomID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]domain.ChatMessage(nil), msgs...), nil
}

func (m *memoryMessages) Clear(_ context.Context, roomID domain.RoomID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.msgs, roomID)
	return nil
}

// recordingMetrics counts dropped events by reason, signals and reconnects.
type recordingMetrics struct {
	ports.NopMetrics

	mu         sync.Mutex
	dropped    map[string]int
	signals    []domain.SignalType
	reconnects int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{dropped: make(map[string]int)}
}

func (m *recordingMetrics) EventDropped(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped[reason]++
}

func (m *recordingMetrics) SignalReceived(t domain.SignalType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signals = append(m.signals, t)
}

func (m *recordingMetrics) ChannelReconnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnects++
}

func (m *recordingMetrics) Reconnects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnects
}

func (m *recordingMetrics) Dropped(reason string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped[reason]
}

var errBoom = errors.New("boom")

func member(id string, joinedAt time.Time) domain.RoomMember {
	return domain.RoomMember{
		UserID:      domain.UserID(id),
		DisplayName: "user " + id,
		JoinedAt:    joinedAt,
		Role:        domain.RoleMember,
		IsActive:    true,
		IsOnline:    true,
	}
}
