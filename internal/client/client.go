// Package client talks to the claim API on behalf of one wallet. It signs
// claim and equip messages with the wallet's Ed25519 key.
package client

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Unwrenchable/atomicfizzcaps-live/internal/domain"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/signature"
	"golang.org/x/time/rate"
)

const defaultTimeout = 90 * time.Second

// reasons the server reports, mapped back to their sentinels
var knownReasons = []error{
	domain.ErrInvalidInput,
	domain.ErrUnknownLocation,
	domain.ErrInvalidWallet,
	domain.ErrAuthentication,
	domain.ErrMessageMismatch,
	domain.ErrMessageExpired,
	domain.ErrGeofence,
	domain.ErrCooldown,
	domain.ErrAlreadyClaimed,
	domain.ErrLevelTooLow,
	domain.ErrGearNotFound,
	domain.ErrTransferFailed,
	domain.ErrTransferAmbiguous,
}

// APIError is a non-2xx answer from the server
type APIError struct {
	Status   int
	Reason   string
	Distance *float64
}

func (e *APIError) Error() string {
	if e.Distance != nil {
		return fmt.Sprintf("%d: %s (%.0fm away)", e.Status, e.Reason, *e.Distance)
	}
	return fmt.Sprintf("%d: %s", e.Status, e.Reason)
}

// Unwrap lets callers match server errors with errors.Is
func (e *APIError) Unwrap() error {
	for _, sentinel := range knownReasons {
		if strings.HasPrefix(e.Reason, sentinel.Error()) {
			return sentinel
		}
	}
	return nil
}

// Player is a player record as served by the API
type Player struct {
	*domain.PlayerRecord
	Exists bool `json:"exists"`
}

// Client is an API client bound to one wallet key
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
	key        ed25519.PrivateKey
	wallet     string
	now        func() time.Time
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default http client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit caps outgoing requests per second
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// New creates a client for baseURL, e.g. http://localhost:8080
func New(baseURL string, key ed25519.PrivateKey, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(2), 2),
		baseURL:    strings.TrimRight(baseURL, "/"),
		key:        key,
		wallet:     signature.Identity(key.Public().(ed25519.PublicKey)),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Wallet returns the client's wallet address
func (c *Client) Wallet() string {
	return c.wallet
}

// SignedClaim builds a signed claim request without sending it
func (c *Client) SignedClaim(locationID string, lat, lng float64, streak int) domain.ClaimRequest {
	msg := signature.ClaimMessage(locationID, c.now())
	return domain.ClaimRequest{
		Wallet:     c.wallet,
		LocationID: locationID,
		Lat:        &lat,
		Lng:        &lng,
		Signature:  signature.Sign(c.key, msg),
		Message:    msg,
		Streak:     streak,
	}
}

// Claim submits a signed claim for a location
func (c *Client) Claim(ctx context.Context, locationID string, lat, lng float64, streak int) (*domain.ClaimResult, error) {
	var result domain.ClaimResult
	if err := c.request(ctx, http.MethodPost, "/api/v1/claims", c.SignedClaim(locationID, lat, lng, streak), &result, false); err != nil {
		return nil, err
	}
	return &result, nil
}

// Equip equips or unequips an owned gear instance
func (c *Client) Equip(ctx context.Context, gearID string, equip bool) (*Player, error) {
	msg := signature.EquipMessage(gearID, c.now())
	req := domain.EquipRequest{
		Wallet:    c.wallet,
		GearID:    gearID,
		Equip:     equip,
		Signature: signature.Sign(c.key, msg),
		Message:   msg,
	}
	var p Player
	if err := c.request(ctx, http.MethodPost, "/api/v1/players/"+url.PathEscape(c.wallet)+"/equip", req, &p, true); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPlayer reads any wallet's record
func (c *Client) GetPlayer(ctx context.Context, wallet string) (*Player, error) {
	var p Player
	if err := c.request(ctx, http.MethodGet, "/api/v1/players/"+url.PathEscape(wallet), nil, &p, true); err != nil {
		return nil, err
	}
	return &p, nil
}

// FetchPlayer returns the bare record, for mirroring
func (c *Client) FetchPlayer(ctx context.Context, wallet string) (*domain.PlayerRecord, error) {
	p, err := c.GetPlayer(ctx, wallet)
	if err != nil {
		return nil, err
	}
	return p.PlayerRecord, nil
}

// Locations lists the claimable locations
func (c *Client) Locations(ctx context.Context) ([]domain.Location, error) {
	var locs []domain.Location
	if err := c.request(ctx, http.MethodGet, "/api/v1/locations", nil, &locs, true); err != nil {
		return nil, err
	}
	return locs, nil
}

// History lists a wallet's recent paid claims
func (c *Client) History(ctx context.Context, wallet string, limit int) ([]domain.ClaimEvent, error) {
	var events []domain.ClaimEvent
	path := "/api/v1/players/" + url.PathEscape(wallet) + "/claims?limit=" + strconv.Itoa(limit)
	if err := c.request(ctx, http.MethodGet, path, nil, &events, true); err != nil {
		return nil, err
	}
	return events, nil
}

// request sends body as JSON and decodes the answer into result. Most
// endpoints wrap their payload in {success, data}; claims answer bare.
func (c *Client) request(ctx context.Context, method, path string, body, result interface{}, wrapped bool) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var failure struct {
			Error    string   `json:"error"`
			Distance *float64 `json:"distance"`
		}
		if err := json.Unmarshal(respBody, &failure); err != nil || failure.Error == "" {
			failure.Error = strings.TrimSpace(string(respBody))
		}
		return &APIError{Status: resp.StatusCode, Reason: failure.Error, Distance: failure.Distance}
	}

	if !wrapped {
		return json.Unmarshal(respBody, result)
	}
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if !envelope.Success {
		return errors.New("server reported failure")
	}
	return json.Unmarshal(envelope.Data, result)
}
