package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/pkg/circuitbreaker"
	apperrors "huddle/pkg/errors"
	"huddle/pkg/retry"
	"huddle/pkg/tracing"
	"huddle/pkg/validation"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const maxResponseSize = 4 << 20

type Config struct {
	BaseURL        string
	Timeout        time.Duration
	Retry          retry.Config
	CircuitBreaker circuitbreaker.Config
}

// Client talks to the meeting backend. Transient failures are retried and a
// breaker stops hammering a backend that keeps failing.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	retry   retry.Config
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.SugaredLogger

	mu   sync.RWMutex
	user *domain.User
}

var _ ports.RoomAPI = (*Client)(nil)

func NewClient(config Config, logger *zap.SugaredLogger) (*Client, error) {
	if err := validation.ValidateURL(config.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	base, err := url.Parse(strings.TrimRight(config.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	config.Retry.ShouldRetry = apperrors.IsRetryable
	config.CircuitBreaker.IsFailure = apperrors.IsRetryable

	c := &Client{
		baseURL: base,
		http:    &http.Client{Timeout: config.Timeout},
		retry:   config.Retry,
		breaker: circuitbreaker.New(config.CircuitBreaker),
		logger:  logger.With("component", "api_client"),
	}
	c.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		c.logger.Infow("API circuit breaker state changed", "from", from.String(), "to", to.String())
	})
	return c, nil
}

// User returns the identity registered by Login.
func (c *Client) User() (domain.User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.user == nil {
		return domain.User{}, false
	}
	return *c.user, true
}

func (c *Client) requireUser() (domain.User, error) {
	u, ok := c.User()
	if !ok {
		return domain.User{}, apperrors.NewUnauthorizedError("not logged in")
	}
	return u, nil
}

func (c *Client) Login(ctx context.Context, user domain.User) error {
	body := map[string]any{
		"id":        user.ID,
		"email":     user.Email,
		"name":      user.Name,
		"picture":   user.Picture,
		"loginTime": time.Now().UTC().Format(time.RFC3339),
	}
	if err := c.do(ctx, http.MethodPost, "/api/users/login", nil, body, nil); err != nil {
		return err
	}

	c.mu.Lock()
	c.user = &user
	c.mu.Unlock()
	c.logger.Infow("Logged in", "user_id", user.ID)
	return nil
}

// Logout is a no-op when no user is logged in.
func (c *Client) Logout(ctx context.Context) error {
	user, ok := c.User()
	if !ok {
		return nil
	}
	body := map[string]any{
		"id":         user.ID,
		"logoutTime": time.Now().UTC().Format(time.RFC3339),
	}
	if err := c.do(ctx, http.MethodPost, "/api/users/logout", nil, body, nil); err != nil {
		return err
	}

	c.mu.Lock()
	c.user = nil
	c.mu.Unlock()
	return nil
}

func (c *Client) UpdateUser(ctx context.Context, user domain.User) error {
	if err := validation.ValidateIdentifier(string(user.ID), "user id"); err != nil {
		return apperrors.NewInvalidInputError(err.Error())
	}
	if err := c.do(ctx, http.MethodPut, "/api/users/"+url.PathEscape(string(user.ID)), nil, user, nil); err != nil {
		return err
	}

	c.mu.Lock()
	if c.user != nil && c.user.ID == user.ID {
		c.user = &user
	}
	c.mu.Unlock()
	return nil
}

func (c *Client) CreateRoom(ctx context.Context, req CreateRoomRequest) (*domain.RoomInfo, error) {
	user, err := c.requireUser()
	if err != nil {
		return nil, err
	}
	if err := validation.ValidateRoomName(req.RoomName); err != nil {
		return nil, apperrors.NewInvalidInputError(err.Error())
	}

	body := struct {
		User domain.User `json:"user"`
		CreateRoomRequest
	}{User: user, CreateRoomRequest: req}

	var room domain.RoomInfo
	if err := c.do(ctx, http.MethodPost, "/api/rooms", nil, body, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func (c *Client) JoinRoom(ctx context.Context, code, password string) (*domain.RoomInfo, error) {
	user, err := c.requireUser()
	if err != nil {
		return nil, err
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if err := validation.ValidateRoomCode(code); err != nil {
		return nil, apperrors.NewInvalidInputError(err.Error())
	}

	body := map[string]any{"user": user}
	if password != "" {
		body["password"] = password
	}

	var room domain.RoomInfo
	if err := c.do(ctx, http.MethodPost, "/api/rooms/join/"+url.PathEscape(code), nil, body, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func (c *Client) GetRoom(ctx context.Context, roomID domain.RoomID) (*domain.RoomInfo, error) {
	var room domain.RoomInfo
	if err := c.do(ctx, http.MethodGet, "/api/rooms/"+url.PathEscape(string(roomID)), nil, nil, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func (c *Client) LeaveRoom(ctx context.Context, roomID domain.RoomID) error {
	user, err := c.requireUser()
	if err != nil {
		return err
	}
	path := "/api/rooms/" + url.PathEscape(string(roomID)) + "/leave"
	return c.do(ctx, http.MethodPost, path, nil, map[string]any{"user": user}, nil)
}

func (c *Client) UserRooms(ctx context.Context) ([]domain.RoomInfo, error) {
	user, err := c.requireUser()
	if err != nil {
		return nil, err
	}
	var rooms []domain.RoomInfo
	path := "/api/users/" + url.PathEscape(string(user.ID)) + "/rooms"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

func (c *Client) CreateShareLink(ctx context.Context, roomID domain.RoomID, opts ShareLinkOptions) (*ShareLink, error) {
	user, err := c.requireUser()
	if err != nil {
		return nil, err
	}
	body := struct {
		UserID domain.UserID `json:"userId"`
		ShareLinkOptions
	}{UserID: user.ID, ShareLinkOptions: opts}

	var link ShareLink
	if err := c.do(ctx, http.MethodPost, sharePath("rooms", string(roomID), "links"), nil, body, &link); err != nil {
		return nil, err
	}
	return &link, nil
}

func (c *Client) ListShareLinks(ctx context.Context, roomID domain.RoomID) ([]ShareLink, error) {
	user, err := c.requireUser()
	if err != nil {
		return nil, err
	}
	var links []ShareLink
	query := url.Values{"userId": {string(user.ID)}}
	if err := c.do(ctx, http.MethodGet, sharePath("rooms", string(roomID), "links"), query, nil, &links); err != nil {
		return nil, err
	}
	return links, nil
}

func (c *Client) DeactivateShareLink(ctx context.Context, token string) error {
	user, err := c.requireUser()
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, sharePath("links", token), nil, map[string]any{"userId": user.ID}, nil)
}

func (c *Client) CreateInvitation(ctx context.Context, roomID domain.RoomID, email, message string) (*Invitation, error) {
	user, err := c.requireUser()
	if err != nil {
		return nil, err
	}
	if err := validation.ValidateEmail(email); err != nil {
		return nil, apperrors.NewInvalidInputError(err.Error())
	}

	body := map[string]any{
		"fromUserId":  user.ID,
		"toUserEmail": email,
		"message":     message,
	}
	var inv Invitation
	if err := c.do(ctx, http.MethodPost, sharePath("rooms", string(roomID), "invitations"), nil, body, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (c *Client) ListInvitations(ctx context.Context, roomID domain.RoomID) ([]Invitation, error) {
	user, err := c.requireUser()
	if err != nil {
		return nil, err
	}
	var invs []Invitation
	query := url.Values{"userId": {string(user.ID)}}
	if err := c.do(ctx, http.MethodGet, sharePath("rooms", string(roomID), "invitations"), query, nil, &invs); err != nil {
		return nil, err
	}
	return invs, nil
}

func (c *Client) SocialShare(ctx context.Context, token, platform string) (*SocialShareData, error) {
	var data SocialShareData
	query := url.Values{"platform": {platform}}
	if err := c.do(ctx, http.MethodGet, sharePath("links", token, "social"), query, nil, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

func (c *Client) RecordShareStat(ctx context.Context, token string, kind ShareStatKind) error {
	user, err := c.requireUser()
	if err != nil {
		return err
	}
	body := map[string]any{"type": kind, "userId": user.ID}
	return c.do(ctx, http.MethodPost, sharePath("links", token, "stats"), nil, body, nil)
}

func (c *Client) RoomShareStats(ctx context.Context, roomID domain.RoomID) (*ShareStats, error) {
	user, err := c.requireUser()
	if err != nil {
		return nil, err
	}
	var stats ShareStats
	query := url.Values{"userId": {string(user.ID)}}
	if err := c.do(ctx, http.MethodGet, sharePath("rooms", string(roomID), "stats"), query, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func sharePath(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return "/api/share/" + strings.Join(escaped, "/")
}

// idempotent reports whether a request may be replayed after a transient
// failure. Creating rooms, joining, share links and stats are POSTs and run
// at most once.
func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

// do sends one request through the breaker and decodes the payload into out,
// if given. Only idempotent methods go through the retry policy.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	ctx, span := tracing.TraceHTTPRequest(ctx, method, path)
	defer span.End()

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	attempt := 0
	send := func() error {
		attempt++
		return c.roundTrip(ctx, method, path, query, payload, out)
	}
	err := c.breaker.Execute(ctx, func() error {
		if !idempotent(method) {
			return send()
		}
		return retry.Retry(ctx, c.retry, send)
	})
	tracing.AddSpanAttributes(ctx, attribute.Int("http.attempts", attempt))
	if err != nil {
		tracing.RecordError(ctx, err)
		c.logger.Warnw("API request failed", "method", method, "path", path, "attempts", attempt, "error", err)
		return err
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, payload []byte, out any) error {
	u := *c.baseURL
	u.Path += path
	u.RawQuery = query.Encode()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperrors.NewNetworkError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return apperrors.NewNetworkError(err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return apperrors.FromHTTPStatus(resp.StatusCode, errorMessage(data)).
			WithContext("method", method).
			WithContext("path", path)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return decodePayload(data, out)
}

// decodePayload accepts both bare payloads and the {success, data} or
// {room} wrappers the backend uses.
func decodePayload(data []byte, out any) error {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err == nil {
		for _, key := range []string{"room", "data", "rooms"} {
			if inner, ok := envelope[key]; ok && len(inner) > 0 && string(inner) != "null" {
				data = inner
				break
			}
		}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeInternal, "unexpected response from server", http.StatusOK)
	}
	return nil
}

func errorMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	if body.Message != "" {
		return body.Message
	}
	return body.Error
}
