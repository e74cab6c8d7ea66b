// Package telephony is a minimal client for the telephony provider's REST
// API: placing outbound calls and steering live ones.
package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is the provider API endpoint.
const DefaultBaseURL = "https://api.twilio.com/2010-04-01"

// Client is a telephony provider API client.
type Client struct {
	accountSID string
	authToken  string
	baseURL    string
	httpClient *http.Client
}

// Config configures the client.
type Config struct {
	AccountSID string
	AuthToken  string
	BaseURL    string
	HTTPClient *http.Client
}

// New creates a client. AccountSID and AuthToken are required.
func New(cfg Config) (*Client, error) {
	if cfg.AccountSID == "" {
		return nil, fmt.Errorf("telephony: account SID is required")
	}
	if cfg.AuthToken == "" {
		return nil, fmt.Errorf("telephony: auth token is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		baseURL:    baseURL,
		httpClient: httpClient,
	}, nil
}

// Call is a provider call resource.
type Call struct {
	SID       string `json:"sid"`
	To        string `json:"to"`
	From      string `json:"from"`
	Status    string `json:"status"`
	Direction string `json:"direction"`
}

// PlaceCallParams are parameters for placing an outbound call.
type PlaceCallParams struct {
	To             string
	From           string
	URL            string // webhook returning TwiML when the call connects
	StatusCallback string // webhook for terminal status events
	Record         bool
	Timeout        int // ring timeout in seconds
}

// PlaceCall initiates an outbound call.
func (c *Client) PlaceCall(ctx context.Context, params PlaceCallParams) (*Call, error) {
	data := url.Values{}
	data.Set("To", params.To)
	data.Set("From", params.From)
	data.Set("Url", params.URL)
	if params.StatusCallback != "" {
		data.Set("StatusCallback", params.StatusCallback)
		for _, ev := range []string{"completed", "failed", "busy", "no-answer", "canceled"} {
			data.Add("StatusCallbackEvent", ev)
		}
	}
	if params.Record {
		data.Set("Record", "true")
	}
	if params.Timeout > 0 {
		data.Set("Timeout", strconv.Itoa(params.Timeout))
	}

	var out Call
	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls.json", c.baseURL, c.accountSID)
	if err := c.postForm(ctx, endpoint, data, &out); err != nil {
		return nil, fmt.Errorf("place call to %s: %w", params.To, err)
	}
	return &out, nil
}

// Redirect replaces a live call's TwiML, e.g. to interrupt playback.
func (c *Client) Redirect(ctx context.Context, callSID, twiml string) error {
	data := url.Values{}
	data.Set("Twiml", twiml)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls/%s.json", c.baseURL, c.accountSID, callSID)
	if err := c.postForm(ctx, endpoint, data, nil); err != nil {
		return fmt.Errorf("redirect call %s: %w", callSID, err)
	}
	return nil
}

func (c *Client) postForm(ctx context.Context, endpoint string, data url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode provider response: %w", err)
		}
	}
	return nil
}
