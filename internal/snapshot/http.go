package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrUnauthorized is returned when the API rejects the credentials.
var ErrUnauthorized = errors.New("snapshot api: unauthorized")

// ClientOptions configures the API client.
type ClientOptions struct {
	BaseURL        string
	SigninPath     string
	AutomationPath string
	MachinesPath   string
	Username       string
	Password       string
	Timeout        time.Duration
	Logger         *zap.Logger
	// HTTPClient overrides the default client. Useful for tests.
	HTTPClient *http.Client
}

// Client fetches the snapshot from the management API with a bearer token
// obtained at sign-in.
type Client struct {
	opts ClientOptions
	http *http.Client
	log  *zap.Logger
}

// NewClient creates a Client, filling unset paths with the API defaults.
func NewClient(opts ClientOptions) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = "http://localhost:3000"
	}
	if opts.SigninPath == "" {
		opts.SigninPath = "/api/auth/signin"
	}
	if opts.AutomationPath == "" {
		opts.AutomationPath = "/api/automation/read"
	}
	if opts.MachinesPath == "" {
		opts.MachinesPath = "/api/machine/device/read"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{opts: opts, http: hc, log: opts.Logger.Named("snapshot")}
}

func (c *Client) url(path string) string {
	return strings.TrimRight(c.opts.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// Load signs in and fetches machines and automations.
func (c *Client) Load(ctx context.Context) (Snapshot, error) {
	token, err := c.signin(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	var machines []Machine
	if err := c.get(ctx, token, c.opts.MachinesPath, &machines); err != nil {
		return Snapshot{}, fmt.Errorf("machines: %w", err)
	}
	var raw []json.RawMessage
	if err := c.get(ctx, token, c.opts.AutomationPath, &raw); err != nil {
		return Snapshot{}, fmt.Errorf("automations: %w", err)
	}
	autos, errs := decodeAutomations(raw)
	for _, e := range errs {
		c.log.Error("skipping automation record", zap.Error(e))
	}
	c.log.Info("snapshot loaded",
		zap.Int("machines", len(machines)),
		zap.Int("automations", len(autos)))
	return Snapshot{Machines: machines, Automations: autos}, nil
}

type signinResponse struct {
	AccessToken string `json:"accessToken"`
	Token       string `json:"access_token"`
}

func (c *Client) signin(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{
		"username": c.opts.Username,
		"password": c.opts.Password,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(c.opts.SigninPath), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("signin request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("signin: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", ErrUnauthorized
	}
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("signin: %s", resp.Status)
	}

	var sr signinResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", fmt.Errorf("signin response: %w", err)
	}
	token := sr.AccessToken
	if token == "" {
		token = sr.Token
	}
	if token == "" {
		return "", errors.New("signin response: no access token")
	}
	return token, nil
}

func (c *Client) get(ctx context.Context, token, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("GET %s: %s: %s", path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
