package monitoring

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"huddle/internal/core/domain"

	"github.com/pion/rtp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusCollector_RecordsMeetingMetrics(t *testing.T) {
	c := NewPrometheusCollector(prometheus.NewRegistry())

	c.SessionStateChanged(domain.StateConnecting, domain.StateConnected)
	c.SessionStateChanged(domain.StateConnecting, domain.StateConnected)
	c.SetActiveSessions(3)
	c.SetRosterSize(4)
	c.ObserveAcquisition("hd", errors.New("busy"))
	c.ObserveAcquisition("sd", nil)
	c.EventDropped("self_signal")
	c.ScreenShareChanged(true)
	c.ChannelReconnected()

	assert.Equal(t, 2.0, testutil.ToFloat64(c.sessionTransitions.WithLabelValues("connecting", "connected")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.sessionsActive))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.rosterSize))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.acquisitions.WithLabelValues("hd", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.acquisitions.WithLabelValues("sd", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.eventsDropped.WithLabelValues("self_signal")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.screenShareActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.channelReconnects))

	c.ScreenShareChanged(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.screenShareActive))
}

func TestPrometheusCollector_CountsRemoteMedia(t *testing.T) {
	c := NewPrometheusCollector(nil)
	track := domain.RemoteTrackInfo{ID: "v1", Kind: domain.KindVideo}

	require.NoError(t, c.WriteRTP("bob", track, &rtp.Packet{Payload: make([]byte, 100)}))
	require.NoError(t, c.WriteRTP("bob", track, &rtp.Packet{Payload: make([]byte, 50)}))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.remotePackets.WithLabelValues("video")))
	assert.Equal(t, 150.0, testutil.ToFloat64(c.remoteBytes.WithLabelValues("video")))
}

func TestPrometheusCollector_Handler(t *testing.T) {
	c := NewPrometheusCollector(nil)
	c.SetRosterSize(2)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "huddle_roster_size 2"))
}

func TestHealthChecker(t *testing.T) {
	h := NewHealthChecker()
	h.AddStoreCheck(func(context.Context) error { return nil }, time.Second)
	h.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, 10*time.Millisecond)

	status := h.CheckAll(context.Background())

	assert.False(t, status.Healthy())
	assert.Equal(t, "healthy", status.Checks["history_store"])
	assert.Equal(t, context.DeadlineExceeded.Error(), status.Checks["slow"])
}
