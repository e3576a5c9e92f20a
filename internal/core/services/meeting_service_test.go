package services

import (
	"context"
	"testing"
	"time"

	"huddle/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type meetingFixture struct {
	self     domain.User
	channel  *fakeChannel
	api      *MockRoomAPI
	devices  *fakeDevices
	capture  *CaptureService
	registry *fakeRegistry
	presence *PresenceService
	messages *memoryMessages
	metrics  *recordingMetrics
	meeting  *MeetingService
}

func newMeetingFixture(t *testing.T, selfID string) *meetingFixture {
	logger := zaptest.NewLogger(t).Sugar()
	user := domain.User{ID: domain.UserID(selfID), Name: "User " + selfID}

	channel := newFakeChannel()
	api := failingAPI()
	devices := newFakeDevices(t, domain.KindVideo, domain.KindAudio)
	capture := NewCaptureService(devices, DefaultCaptureOptions(), nil, logger)
	registry := newFakeRegistry()
	registry.media = capture
	presence := NewPresenceService(PresenceConfig{RoomID: "room-1", Self: user, SelfHealGrace: time.Hour}, channel, api, nil, logger)
	messages := newMemoryMessages()
	metrics := newRecordingMetrics()

	meeting := NewMeetingService(MeetingConfig{Self: user, RoomID: "room-1"}, MeetingDeps{
		Channel:     channel,
		API:         api,
		Capture:     capture,
		Registry:    registry,
		Relay:       NewRelayService(channel, "room-1", nil, logger),
		Presence:    presence,
		ScreenShare: NewScreenShareService(capture, registry, nil, logger),
		Chat:        NewChatService(ChatConfig{RoomID: "room-1"}, channel, messages, logger),
		Metrics:     metrics,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		meeting.Close()
	})
	require.NoError(t, meeting.Start(ctx))
	meeting.OnChannelUp(ctx)

	return &meetingFixture{
		self:     user,
		channel:  channel,
		api:      api,
		devices:  devices,
		capture:  capture,
		registry: registry,
		presence: presence,
		messages: messages,
		metrics:  metrics,
		meeting:  meeting,
	}
}

func TestMeeting_NewcomerInitiatesToExistingMembers(t *testing.T) {
	f := newMeetingFixture(t, "c")
	t0 := time.Now().Add(-time.Minute)

	f.meeting.OnEvent(context.Background(), domain.JoinedRoom{
		Success:  true,
		RoomName: "Standup",
		Members: []domain.RoomMember{
			member("a", t0),
			member("b", t0.Add(time.Second)),
			member("c", t0.Add(2*time.Second)),
		},
	})

	require.Eventually(t, func() bool { return len(f.registry.Sessions()) == 2 }, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []domain.UserID{"a", "b"}, f.registry.Outgoing())
	assert.Empty(t, f.registry.Incoming())
}

func TestMeeting_ExistingMemberWaitsForOffer(t *testing.T) {
	f := newMeetingFixture(t, "a")
	ctx := context.Background()

	f.meeting.OnEvent(ctx, domain.JoinedRoom{Success: true, Members: []domain.RoomMember{member("a", time.Now().Add(-time.Minute))}})
	f.meeting.OnEvent(ctx, domain.MemberJoined{Member: domain.RoomMember{UserID: "c", DisplayName: "C"}})

	assert.Never(t, func() bool { return len(f.registry.Outgoing()) > 0 }, 100*time.Millisecond, 10*time.Millisecond)

	f.meeting.OnEvent(ctx, domain.SignalReceived{
		FromUserID:   "c",
		FromUserName: "C",
		Signal:       domain.SignalPayload{Type: domain.SignalOffer, SDP: "offer"},
	})

	assert.Equal(t, []domain.UserID{"c"}, f.registry.Incoming())
	assert.True(t, f.registry.Has("c"))
}

func TestMeeting_InitiatorIgnoresClockSkew(t *testing.T) {
	t0 := time.Now()

	// newcomer whose server stamps put it before the incumbent
	newcomer := newMeetingFixture(t, "c")
	newcomer.meeting.OnEvent(context.Background(), domain.JoinedRoom{
		Success: true,
		Members: []domain.RoomMember{member("a", t0.Add(time.Hour)), member("c", t0)},
	})
	require.Eventually(t, func() bool { return newcomer.registry.Has("a") }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []domain.UserID{"a"}, newcomer.registry.Outgoing())

	// incumbent hearing about that newcomer with an earlier join time
	incumbent := newMeetingFixture(t, "a")
	incumbent.meeting.OnEvent(context.Background(), domain.JoinedRoom{Success: true, Members: []domain.RoomMember{member("a", t0.Add(time.Hour))}})
	incumbent.meeting.OnEvent(context.Background(), domain.MemberJoined{Member: member("c", t0)})
	incumbent.meeting.OnEvent(context.Background(), domain.MembersList{Members: []domain.RoomMember{member("a", t0.Add(time.Hour)), member("c", t0)}})

	assert.Never(t, func() bool { return len(incumbent.registry.Outgoing()) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestMeeting_OfferFromUnlistedPeerAddsMember(t *testing.T) {
	f := newMeetingFixture(t, "a")
	ctx := context.Background()
	f.meeting.OnEvent(ctx, domain.MembersList{Members: []domain.RoomMember{member("a", time.Now())}})

	f.meeting.OnEvent(ctx, domain.SignalReceived{
		FromUserID:   "z",
		FromUserName: "Zed",
		Signal:       domain.SignalPayload{Type: domain.SignalOffer, SDP: "offer"},
	})

	_, ok := f.meeting.Roster().Member("z")
	assert.True(t, ok)
	assert.Never(t, func() bool { return !f.registry.Has("z") }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestMeeting_MemberLeftClosesSession(t *testing.T) {
	f := newMeetingFixture(t, "c")
	t0 := time.Now().Add(-time.Minute)
	f.meeting.OnEvent(context.Background(), domain.JoinedRoom{Success: true, Members: []domain.RoomMember{member("a", t0), member("c", t0.Add(time.Second))}})
	require.Eventually(t, func() bool { return f.registry.Has("a") }, time.Second, 5*time.Millisecond)

	f.meeting.OnEvent(context.Background(), domain.MemberLeft{UserID: "a"})

	assert.False(t, f.registry.Has("a"))
	_, ok := f.meeting.Roster().Member("a")
	assert.False(t, ok)
}

func TestMeeting_ChannelDownClearsRosterAndSessions(t *testing.T) {
	f := newMeetingFixture(t, "c")
	t0 := time.Now().Add(-time.Minute)
	f.meeting.OnEvent(context.Background(), domain.JoinedRoom{Success: true, Members: []domain.RoomMember{member("a", t0), member("c", t0.Add(time.Second))}})
	require.Eventually(t, func() bool { return f.registry.Has("a") }, time.Second, 5*time.Millisecond)

	f.meeting.OnChannelDown(domain.ErrChannelLost)

	assert.Empty(t, f.meeting.Roster().Members)
	assert.False(t, f.meeting.Roster().Connected)
	assert.Empty(t, f.meeting.Sessions())
	// the websocket client counts reconnects; losing the channel is not one
	assert.Zero(t, f.metrics.Reconnects())

	// after reconnect the peer is offered to again
	f.meeting.OnChannelUp(context.Background())
	f.meeting.OnEvent(context.Background(), domain.JoinedRoom{Success: true, Members: []domain.RoomMember{member("a", t0), member("c", t0.Add(time.Second))}})
	require.Eventually(t, func() bool { return f.registry.Has("a") }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []domain.UserID{"a", "a"}, f.registry.Outgoing())
}

func TestMeeting_FailedAttemptIsNotRetried(t *testing.T) {
	f := newMeetingFixture(t, "c")
	f.registry.mu.Lock()
	f.registry.createErr = errBoom
	f.registry.mu.Unlock()
	t0 := time.Now().Add(-time.Minute)

	f.meeting.OnEvent(context.Background(), domain.JoinedRoom{Success: true, Members: []domain.RoomMember{member("a", t0), member("c", t0.Add(time.Second))}})
	require.Eventually(t, func() bool { return len(f.registry.Outgoing()) == 1 }, time.Second, 5*time.Millisecond)

	f.meeting.OnEvent(context.Background(), domain.TypingChanged{UserID: "a", IsTyping: true})
	assert.Never(t, func() bool { return len(f.registry.Outgoing()) > 1 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestMeeting_JoinFailureRecordsRoomError(t *testing.T) {
	f := newMeetingFixture(t, "c")

	f.meeting.OnEvent(context.Background(), domain.JoinedRoom{Success: false, Message: "Room is full"})

	assert.Equal(t, "Room is full", f.meeting.LastRoomError())
	assert.False(t, f.meeting.Roster().Synced)

	f.meeting.OnEvent(context.Background(), domain.RoomError{Message: "kicked"})
	assert.Equal(t, "kicked", f.meeting.LastRoomError())
}

func TestMeeting_SignalFromSelfIgnored(t *testing.T) {
	f := newMeetingFixture(t, "c")
	f.meeting.OnEvent(context.Background(), domain.JoinedRoom{Success: true, Members: []domain.RoomMember{member("c", time.Now())}})

	f.meeting.OnEvent(context.Background(), domain.SignalReceived{
		FromUserID: "c",
		Signal:     domain.SignalPayload{Type: domain.SignalOffer, SDP: "offer"},
	})

	assert.Empty(t, f.registry.Incoming())
}

func TestMeeting_ChatRouting(t *testing.T) {
	f := newMeetingFixture(t, "c")
	ctx := context.Background()

	f.meeting.OnEvent(ctx, domain.ChatHistory{Messages: []domain.ChatMessage{{ID: "1", UserID: "a", Message: "hi"}}})
	f.meeting.OnEvent(ctx, domain.ChatReceived{Message: domain.ChatMessage{ID: "2", UserID: "a", Message: "there"}})
	f.meeting.OnEvent(ctx, domain.ChatReceived{Message: domain.ChatMessage{ID: "2", UserID: "a", Message: "there"}})

	msgs, err := f.meeting.Messages(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Message)
	assert.Equal(t, "there", msgs[1].Message)
}

func TestMeeting_ReacquireMovesSessionsToNewTracks(t *testing.T) {
	f := newMeetingFixture(t, "c")
	ctx := context.Background()
	f.meeting.OnEvent(ctx, domain.JoinedRoom{Success: true, Members: []domain.RoomMember{member("a", time.Now()), member("c", time.Now())}})
	require.Eventually(t, func() bool { return f.registry.Has("a") }, time.Second, 5*time.Millisecond)
	f.meeting.ToggleAudio()
	old := f.capture.Tracks()
	require.Len(t, old, 2)

	state, err := f.meeting.AcquireMedia(ctx)
	require.NoError(t, err)

	for _, tr := range old {
		assert.True(t, tr.(*fakeTrack).Stopped(), tr.ID())
	}
	video := f.capture.VideoTrack().(*fakeTrack)
	assert.False(t, video.Stopped())
	assert.NotSame(t, old[0], video)
	assert.Same(t, video.local, f.registry.Video())
	assert.NotNil(t, f.registry.Audio())
	assert.NotSame(t, old[1].TrackLocal(), f.registry.Audio())
	assert.False(t, state.AudioEnabled, "mute survives re-capture")
	assert.True(t, f.registry.Has("a"))
}

func TestMeeting_ReacquireRefusedWhileSharing(t *testing.T) {
	f := newMeetingFixture(t, "c")
	ctx := context.Background()
	require.NoError(t, f.meeting.StartScreenShare(ctx))
	display := f.capture.VideoTrack().(*fakeTrack)
	syncs := f.registry.Syncs()

	_, err := f.meeting.AcquireMedia(ctx)
	require.ErrorIs(t, err, domain.ErrScreenShareActive)

	assert.True(t, f.capture.State().ScreenSharing)
	assert.True(t, f.meeting.Media().ScreenSharing)
	assert.False(t, display.Stopped())
	assert.Same(t, display.local, f.registry.Video())
	assert.Equal(t, syncs, f.registry.Syncs())

	require.NoError(t, f.meeting.StopScreenShare(ctx))
	_, err = f.meeting.AcquireMedia(ctx)
	require.NoError(t, err)
}

func TestMeeting_FailedReacquireKeepsTracks(t *testing.T) {
	f := newMeetingFixture(t, "c")
	old := f.capture.Tracks()
	f.devices.mu.Lock()
	for _, p := range domain.DefaultCaptureProfiles() {
		f.devices.fail[p.Name] = &domain.MediaAcquisitionError{Kind: domain.ErrDeviceBusy}
	}
	f.devices.mu.Unlock()

	_, err := f.meeting.AcquireMedia(context.Background())
	require.Error(t, err)

	assert.Equal(t, old, f.capture.Tracks())
	for _, tr := range old {
		assert.False(t, tr.(*fakeTrack).Stopped(), tr.ID())
	}
}

func TestMeeting_Leave(t *testing.T) {
	f := newMeetingFixture(t, "c")
	ctx := context.Background()
	f.api.On("LeaveRoom", mock.Anything, domain.RoomID("room-1")).Return(nil)
	f.api.On("Logout", mock.Anything).Return(nil)
	f.meeting.OnEvent(ctx, domain.JoinedRoom{Success: true, Members: []domain.RoomMember{member("c", time.Now())}})
	require.True(t, f.meeting.Media().VideoTrackPresent)

	require.NoError(t, f.meeting.Leave(ctx))

	f.api.AssertCalled(t, "LeaveRoom", mock.Anything, domain.RoomID("room-1"))
	f.api.AssertCalled(t, "Logout", mock.Anything)
	assert.Len(t, f.channel.Named(domain.EventLeaveRoom), 1)
	assert.Empty(t, f.meeting.Sessions())
	assert.False(t, f.meeting.Media().VideoTrackPresent)
	assert.False(t, f.meeting.Roster().Connected)
}

func TestMeeting_LeaveReportsBackendErrors(t *testing.T) {
	f := newMeetingFixture(t, "c")
	f.api.On("LeaveRoom", mock.Anything, mock.Anything).Return(errBoom)
	f.api.On("Logout", mock.Anything).Return(nil)

	err := f.meeting.Leave(context.Background())

	assert.ErrorIs(t, err, errBoom)
	f.api.AssertCalled(t, "Logout", mock.Anything)
}
