package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/services"
	"huddle/internal/infrastructure/diagnostics"
	"huddle/internal/infrastructure/identity"
	"huddle/internal/infrastructure/media"
	"huddle/internal/infrastructure/middleware"
	"huddle/internal/infrastructure/monitoring"
	"huddle/internal/infrastructure/repositories"
	signalclient "huddle/internal/infrastructure/signal"
	rtc "huddle/internal/infrastructure/webrtc"
	"huddle/pkg/config"
	"huddle/pkg/logger"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// runMeeting wires the meeting for room and blocks until ctx is done or the
// user leaves.
func runMeeting(ctx context.Context, a *app, room *domain.RoomInfo) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg := a.cfg
	ctx = logger.WithRoomID(ctx, string(room.ID))
	ctx = logger.WithUserID(ctx, string(a.user.ID))
	log := logger.NewContextLogger(a.zlog).WithContext(ctx).Sugar().With("instance_id", a.instanceID)

	metrics := monitoring.NewPrometheusCollector(nil)

	repoFactory := repositories.NewRepositoryFactory(cfg, log)
	defer func() {
		if err := repoFactory.Close(); err != nil {
			log.Errorw("Error closing repository factory", "error", err)
		}
	}()

	devices, err := media.NewDevices(media.Config{
		VideoBitrate: cfg.Media.VideoBitrate,
		AudioBitrate: cfg.Media.AudioBitrate,
		MTU:          int(cfg.Media.MTU),
	}, log)
	if err != nil {
		return fmt.Errorf("failed to initialize media devices: %w", err)
	}

	channel := signalclient.NewWebSocketClient(signalConfig(cfg, a.instanceID), metrics, log)

	capture := services.NewCaptureService(devices, services.CaptureOptions{
		Profiles:          domain.DefaultCaptureProfiles(),
		StartVideoEnabled: cfg.Media.StartVideoEnabled,
		StartAudioEnabled: cfg.Media.StartAudioEnabled,
	}, metrics, log)
	relay := services.NewRelayService(channel, room.ID, metrics, log)

	registry := rtc.NewRegistry(a.user.ID, rtc.RegistryDeps{
		Factory: rtc.NewPionSessionFactory(sessionConfig(cfg), devices, log),
		Media:   capture,
		Signals: relay,
		Sink:    metrics,
		Metrics: metrics,
	}, log)

	presence := services.NewPresenceService(services.PresenceConfig{
		RoomID:         room.ID,
		RoomCode:       room.Code,
		Self:           a.user,
		SelfHealGrace:  cfg.Presence.SelfHealGrace,
		ResyncInterval: cfg.Presence.ResyncInterval,
	}, channel, a.api, metrics, log)

	chat := services.NewChatService(services.ChatConfig{
		RoomID:            room.ID,
		MessagesPerSecond: cfg.Chat.MessagesPerSecond,
		Burst:             cfg.Chat.Burst,
		HistoryLimit:      cfg.Chat.HistoryLimit,
	}, channel, repoFactory.CreateMessageRepository(), log)

	meeting := services.NewMeetingService(services.MeetingConfig{
		Self:            a.user,
		RoomID:          room.ID,
		PreferAudioOnly: cfg.Media.PreferAudioOnly,
	}, services.MeetingDeps{
		Channel:     channel,
		API:         a.api,
		Capture:     capture,
		Registry:    registry,
		Relay:       relay,
		Presence:    presence,
		ScreenShare: services.NewScreenShareService(capture, registry, metrics, log),
		Chat:        chat,
		Metrics:     metrics,
	}, log)

	if err := meeting.Start(ctx); err != nil {
		return err
	}

	runErr := make(chan error, 1)
	go func() {
		runErr <- channel.Run(ctx, meeting)
	}()

	var diag *diagnostics.Server
	if diagnostics.Available && cfg.Diagnostics.Enabled {
		health := monitoring.NewHealthChecker()
		health.AddStoreCheck(repoFactory.HealthCheck, 2*time.Second)
		health.AddChannelCheck(meeting)

		var verifier middleware.TokenVerifier
		if cfg.Identity.DevSecret != "" {
			verifier = identity.NewVerifier(cfg.Identity.DevSecret, 0)
		}
		diag = diagnostics.NewServer(diagnostics.ServerConfig{
			Address:   cfg.Diagnostics.Address,
			Verifier:  verifier,
			RateLimit: 20,
			RateBurst: 40,
			Tracing:   cfg.Tracing.Enabled,
		}, diagnostics.NewHandler(meeting, health, metrics.Handler()), log)
		if err := diag.Start(); err != nil {
			log.Warnw("Diagnostics server not started", "address", cfg.Diagnostics.Address, "error", err)
			diag = nil
		}
	}

	fmt.Printf("Joined %q (%s). Type /leave to exit.\n", room.Name, room.Code)
	left := make(chan struct{})
	go console(ctx, meeting, os.Stdin, os.Stdout, left, log)

	select {
	case <-ctx.Done():
		log.Info("Received shutdown signal")
	case <-left:
	case err := <-runErr:
		if err != nil {
			log.Errorw("Signaling channel stopped", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	leaveErr := meeting.Leave(shutdownCtx)
	meeting.Close()
	cancel()
	<-runErr

	if diag != nil {
		if err := diag.Shutdown(shutdownCtx); err != nil {
			log.Errorw("Error shutting down diagnostics", "error", err)
		}
	}
	return leaveErr
}

func signalConfig(cfg *config.Config, instanceID string) signalclient.ClientConfig {
	c := signalclient.DefaultClientConfig(cfg.Signal.URL)
	c.Header = http.Header{"X-Client-Instance": []string{instanceID}}
	if cfg.Signal.PingInterval > 0 {
		c.PingInterval = cfg.Signal.PingInterval
	}
	if cfg.Signal.PongTimeout > 0 {
		c.PongTimeout = cfg.Signal.PongTimeout
	}
	if cfg.Signal.WriteTimeout > 0 {
		c.WriteTimeout = cfg.Signal.WriteTimeout
	}
	if cfg.Signal.MaxMessageSize > 0 {
		c.MaxMessageSize = cfg.Signal.MaxMessageSize
	}
	if cfg.Signal.ReconnectInitial > 0 {
		c.ReconnectInitial = cfg.Signal.ReconnectInitial
	}
	if cfg.Signal.ReconnectMax > 0 {
		c.ReconnectMax = cfg.Signal.ReconnectMax
	}
	return c
}

func sessionConfig(cfg *config.Config) rtc.SessionConfig {
	var sc rtc.SessionConfig
	for _, s := range cfg.WebRTC.ICEServers {
		sc.ICEServers = append(sc.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	sc.PortRange.Min = cfg.WebRTC.PortRange.Min
	sc.PortRange.Max = cfg.WebRTC.PortRange.Max
	return sc
}

// console reads chat lines and slash commands. left is closed on /leave; EOF
// only stops reading, so the client keeps running without a terminal.
func console(ctx context.Context, meeting *services.MeetingService, in io.Reader, out io.Writer, left chan<- struct{}, log *zap.SugaredLogger) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var err error
		switch line {
		case "/leave":
			close(left)
			return
		case "/video":
			fmt.Fprintf(out, "video enabled: %t\n", meeting.ToggleVideo())
		case "/audio":
			fmt.Fprintf(out, "audio enabled: %t\n", meeting.ToggleAudio())
		case "/share":
			err = meeting.StartScreenShare(ctx)
		case "/unshare":
			err = meeting.StopScreenShare(ctx)
		case "/media":
			var state domain.LocalMediaState
			state, err = meeting.AcquireMedia(ctx)
			if err == nil {
				fmt.Fprintf(out, "capturing with profile %s\n", state.Profile)
			}
		case "/who":
			for _, m := range meeting.Roster().Members {
				fmt.Fprintf(out, "  %s (%s) online=%t\n", m.DisplayName, m.UserID, m.IsOnline)
			}
		default:
			err = meeting.SendChat(ctx, line)
		}
		if err != nil {
			log.Warnw("Command failed", "command", line, "error", err)
			fmt.Fprintln(out, "error:", err)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Warnw("Stopped reading input", "error", err)
	}
}
