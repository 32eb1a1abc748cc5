package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/mhorvath/guest-notify/internal/model"
)

// Client wraps the chat gateway's per-identity HTTP endpoints. Control calls
// (status, refresh, qr, logout, check) use a short timeout; Send uses a long
// one because the gateway simulates human typing delay before accepting.
type Client struct {
	baseURL string
	control *http.Client
	send    *http.Client
	breaker *gobreaker.CircuitBreaker
}

type Options struct {
	ControlTimeout time.Duration
	SendTimeout    time.Duration
}

func NewClient(baseURL string, opts Options) *Client {
	if opts.ControlTimeout <= 0 {
		opts.ControlTimeout = 5 * time.Second
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 45 * time.Second
	}

	// The breaker only guards status probes: when the gateway is down, the
	// registry degrades to persisted state anyway, so failing fast here just
	// stops a long queue cycle from stalling on a dead host.
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "gateway-status",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		control: &http.Client{Timeout: opts.ControlTimeout},
		send:    &http.Client{Timeout: opts.SendTimeout},
		breaker: breaker,
	}
}

// StatusResponse is the normalized session status. Profile is nil unless the
// gateway reported a resolvable identity.
type StatusResponse struct {
	State   model.SessionState
	QRCode  string
	Profile *Profile
}

type Profile struct {
	Number      string
	DisplayName string
	AvatarRef   string
}

// statusPayload tolerates both shapes the gateway emits: a flat `me` object
// or the raw client dump under `raw.me` / `raw.wid`.
type statusPayload struct {
	State  string      `json:"state"`
	QRCode string      `json:"qr_code"`
	Me     *widPayload `json:"me"`
	Raw    *struct {
		Me  *widPayload `json:"me"`
		Wid *widPayload `json:"wid"`
	} `json:"raw"`
}

type widPayload struct {
	ID         string `json:"id"`
	User       string `json:"user"`
	Serialized string `json:"_serialized"`
	Pushname   string `json:"pushname"`
	Name       string `json:"name"`
	Avatar     string `json:"avatar"`
}

func (c *Client) Status(ctx context.Context, identity model.Identity) (*StatusResponse, error) {
	res, err := c.breaker.Execute(func() (any, error) {
		body, err := c.doJSON(ctx, c.control, http.MethodGet, c.url(identity, "status"), nil)
		if err != nil {
			return nil, err
		}

		var payload statusPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode status json: %w body=%q", err, truncate(body))
		}

		return &StatusResponse{
			State:   mapState(payload.State),
			QRCode:  payload.QRCode,
			Profile: extractProfile(&payload),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*StatusResponse), nil
}

type refreshPayload struct {
	State  string `json:"state"`
	QRCode string `json:"qr_code"`
	Error  string `json:"error"`
}

type RefreshResponse struct {
	State  model.SessionState
	QRCode string
}

func (c *Client) Refresh(ctx context.Context, identity model.Identity) (*RefreshResponse, error) {
	body, err := c.doJSON(ctx, c.control, http.MethodPost, c.url(identity, "refresh"), nil)
	if err != nil {
		return nil, err
	}

	var payload refreshPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode refresh json: %w body=%q", err, truncate(body))
	}
	if payload.Error != "" {
		return nil, fmt.Errorf("gateway refresh error: %s", payload.Error)
	}

	return &RefreshResponse{
		State:  mapState(payload.State),
		QRCode: payload.QRCode,
	}, nil
}

func (c *Client) QR(ctx context.Context, identity model.Identity) (string, error) {
	body, err := c.doJSON(ctx, c.control, http.MethodGet, c.url(identity, "qr"), nil)
	if err != nil {
		return "", err
	}

	var payload struct {
		QRCode string `json:"qr_code"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("failed to decode qr json: %w body=%q", err, truncate(body))
	}
	return payload.QRCode, nil
}

func (c *Client) Logout(ctx context.Context, identity model.Identity) error {
	_, err := c.doJSON(ctx, c.control, http.MethodPost, c.url(identity, "logout"), nil)
	return err
}

type sendRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
	QueueID string `json:"queue_id"`
}

// Send delivers one message. Anything but HTTP 200 is an error carrying the
// status code and response body for the entry's audit trail.
func (c *Client) Send(ctx context.Context, identity model.Identity, phone, message, queueID string) error {
	reqBody, err := json.Marshal(sendRequest{
		Phone:   phone,
		Message: message,
		QueueID: queueID,
	})
	if err != nil {
		return err
	}

	_, err = c.doJSON(ctx, c.send, http.MethodPost, c.url(identity, "send"), reqBody)
	return err
}

// CheckContact verifies a phone number is reachable through the gateway.
func (c *Client) CheckContact(ctx context.Context, identity model.Identity, phone string) (string, error) {
	body, err := c.doJSON(ctx, c.control, http.MethodGet, c.url(identity, phone, "check"), nil)
	if err != nil {
		return "", err
	}

	var payload struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("failed to decode check json: %w body=%q", err, truncate(body))
	}
	return payload.Status, nil
}

func (c *Client) url(identity model.Identity, parts ...string) string {
	return c.baseURL + "/" + string(identity) + "/" + strings.Join(parts, "/")
}

func (c *Client) doJSON(ctx context.Context, hc *http.Client, method, url string, reqBody []byte) ([]byte, error) {
	var reader io.Reader
	if reqBody != nil {
		reader = bytes.NewReader(reqBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d body=%q", resp.StatusCode, truncate(body))
	}
	return body, nil
}

func mapState(raw string) model.SessionState {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "connected", "open", "inchat":
		return model.SessionConnected
	case "connecting", "opening", "pairing", "initializing":
		return model.SessionConnecting
	case "waiting_qr", "qr", "qrreadsuccess", "unpaired", "unpaired_idle":
		return model.SessionWaitingQR
	case "disconnected", "closed", "conflict", "disconnecting":
		return model.SessionDisconnected
	default:
		return model.SessionError
	}
}

// extractProfile normalizes the gateway's profile shapes here so shape
// variance never reaches the session registry.
func extractProfile(p *statusPayload) *Profile {
	wid := p.Me
	if wid == nil && p.Raw != nil {
		wid = p.Raw.Me
		if wid == nil {
			wid = p.Raw.Wid
		}
	}
	if wid == nil {
		return nil
	}

	number := wid.User
	if number == "" {
		number = numericToken(wid.ID)
	}
	if number == "" {
		number = numericToken(wid.Serialized)
	}
	if number == "" {
		return nil
	}

	name := wid.Pushname
	if name == "" {
		name = wid.Name
	}

	return &Profile{
		Number:      number,
		DisplayName: name,
		AvatarRef:   wid.Avatar,
	}
}

// numericToken returns the leading digit run of a wid-style id such as
// "36201234567@c.us".
func numericToken(s string) string {
	for i, r := range s {
		if r < '0' || r > '9' {
			return s[:i]
		}
	}
	return s
}

func truncate(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
