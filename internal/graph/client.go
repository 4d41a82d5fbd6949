// Package graph is a minimal Microsoft Graph client covering what the daemon
// needs: device-code sign-in and a calendar view lookup used to enrich a
// detected call with its meeting subject and attendee names. Failures here
// only degrade call naming, so every path is built to time out fast and
// return rather than retry.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/tiroq/tempofy/internal/calltrack"
	"github.com/tiroq/tempofy/internal/diaglog"
)

const (
	defaultLoginBase = "https://login.microsoftonline.com"
	defaultGraphBase = "https://graph.microsoft.com/v1.0"

	// Scopes requested during device-code sign-in.
	scopes = "Calendars.Read OnlineMeetings.Read User.Read offline_access"
)

// Config carries the Azure AD app registration details plus a previously
// acquired token.
type Config struct {
	TenantID    string
	ClientID    string
	AccessToken string
	Timeout     time.Duration
}

// Client talks to Microsoft Graph.
type Client struct {
	cfg       Config
	http      *http.Client
	loginBase string
	graphBase string
	diag      *diaglog.Logger
}

// New builds a Client. A zero Timeout defaults to 10s; calendar lookups
// happen on the call-detection path and must never hang it.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:       cfg,
		http:      &http.Client{Timeout: cfg.Timeout},
		loginBase: defaultLoginBase,
		graphBase: defaultGraphBase,
		diag:      diaglog.NewNoOp(),
	}
}

// SetLogger installs the structured diagnostic logger.
func (c *Client) SetLogger(l *diaglog.Logger) {
	if l == nil {
		l = diaglog.NewNoOp()
	}
	c.diag = l
}

// SetBaseURLs overrides the login and Graph endpoints. Test hook.
func (c *Client) SetBaseURLs(loginBase, graphBase string) {
	c.loginBase = strings.TrimRight(loginBase, "/")
	c.graphBase = strings.TrimRight(graphBase, "/")
}

// SetAccessToken installs a token acquired out of band.
func (c *Client) SetAccessToken(token string) {
	c.cfg.AccessToken = token
}

// AccessToken returns the current token, empty when not signed in.
func (c *Client) AccessToken() string {
	return c.cfg.AccessToken
}

// ── Device-code sign-in ──────────────────────────────────────────────────────

// DeviceCode is the user-facing half of a pending device-code flow.
type DeviceCode struct {
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	Message         string `json:"message"`

	deviceCode string
	interval   time.Duration
	expiresAt  time.Time
}

type deviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
	Message         string `json:"message"`
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int    `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// BeginDeviceCode starts the device-code flow. The returned DeviceCode holds
// the message the user must act on; pass it to WaitForToken.
func (c *Client) BeginDeviceCode(ctx context.Context) (*DeviceCode, error) {
	endpoint := fmt.Sprintf("%s/%s/oauth2/v2.0/devicecode", c.loginBase, c.cfg.TenantID)
	form := url.Values{
		"client_id": {c.cfg.ClientID},
		"scope":     {scopes},
	}

	var resp deviceCodeResponse
	if err := c.postForm(ctx, endpoint, form, &resp); err != nil {
		return nil, fmt.Errorf("device code request: %w", err)
	}
	if resp.DeviceCode == "" {
		return nil, fmt.Errorf("device code request: empty response")
	}

	interval := time.Duration(resp.Interval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &DeviceCode{
		UserCode:        resp.UserCode,
		VerificationURI: resp.VerificationURI,
		Message:         resp.Message,
		deviceCode:      resp.DeviceCode,
		interval:        interval,
		expiresAt:       time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}, nil
}

// WaitForToken polls the token endpoint until the user completes sign-in, the
// code expires, or ctx is cancelled. On success the token is installed on the
// client and returned.
func (c *Client) WaitForToken(ctx context.Context, dc *DeviceCode) (string, error) {
	endpoint := fmt.Sprintf("%s/%s/oauth2/v2.0/token", c.loginBase, c.cfg.TenantID)
	form := url.Values{
		"grant_type":  {"urn:ietf:params:oauth:grant-type:device_code"},
		"client_id":   {c.cfg.ClientID},
		"device_code": {dc.deviceCode},
	}

	ticker := time.NewTicker(dc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
		if !dc.expiresAt.IsZero() && time.Now().After(dc.expiresAt) {
			return "", fmt.Errorf("device code expired before sign-in completed")
		}

		var resp tokenResponse
		if err := c.postForm(ctx, endpoint, form, &resp); err != nil {
			return "", fmt.Errorf("token request: %w", err)
		}
		switch resp.Error {
		case "":
			if resp.AccessToken == "" {
				return "", fmt.Errorf("token response missing access_token")
			}
			c.cfg.AccessToken = resp.AccessToken
			return resp.AccessToken, nil
		case "authorization_pending":
			continue
		case "slow_down":
			ticker.Reset(dc.interval + 5*time.Second)
			continue
		default:
			return "", fmt.Errorf("device code sign-in failed: %s", resp.Error)
		}
	}
}

func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	// OAuth error payloads arrive with 4xx statuses but still carry JSON the
	// caller needs (authorization_pending etc).
	return json.Unmarshal(body, out)
}

// ── Calendar ─────────────────────────────────────────────────────────────────

// Meeting is one calendar event relevant to call enrichment.
type Meeting struct {
	Subject         string    `json:"subject"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	Organizer       string    `json:"organizer,omitempty"`
	Participants    []string  `json:"participants,omitempty"`
	IsOnlineMeeting bool      `json:"is_online_meeting"`
}

type calendarResponse struct {
	Value []struct {
		Subject   string        `json:"subject"`
		Start     graphDateTime `json:"start"`
		End       graphDateTime `json:"end"`
		Attendees []struct {
			Type         string `json:"type"`
			EmailAddress struct {
				Name    string `json:"name"`
				Address string `json:"address"`
			} `json:"emailAddress"`
		} `json:"attendees"`
		Organizer struct {
			EmailAddress struct {
				Name string `json:"name"`
			} `json:"emailAddress"`
		} `json:"organizer"`
		IsOnlineMeeting bool `json:"isOnlineMeeting"`
	} `json:"value"`
}

type graphDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

func (g graphDateTime) parse() time.Time {
	// Graph returns naive timestamps plus a zone name; UTC is requested via
	// the Prefer header, so the zone is always UTC here.
	for _, layout := range []string{"2006-01-02T15:04:05.9999999", time.RFC3339} {
		if t, err := time.Parse(layout, g.DateTime); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// CurrentMeetings returns calendar events overlapping at, looked up in a
// ±1 hour calendar view window around it.
func (c *Client) CurrentMeetings(ctx context.Context, at time.Time) ([]Meeting, error) {
	if c.cfg.AccessToken == "" {
		return nil, fmt.Errorf("not signed in")
	}

	windowStart := at.Add(-time.Hour).UTC()
	windowEnd := at.Add(time.Hour).UTC()

	q := url.Values{
		"startDateTime": {windowStart.Format(time.RFC3339)},
		"endDateTime":   {windowEnd.Format(time.RFC3339)},
		"$select":       {"subject,start,end,attendees,organizer,isOnlineMeeting"},
		"$orderby":      {"start/dateTime"},
	}
	endpoint := c.graphBase + "/me/calendarView?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	req.Header.Set("Prefer", `outlook.timezone="UTC"`)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calendar view: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("calendar view: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed calendarResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("calendar view: %w", err)
	}

	var meetings []Meeting
	for _, ev := range parsed.Value {
		m := Meeting{
			Subject:         ev.Subject,
			Start:           ev.Start.parse(),
			End:             ev.End.parse(),
			Organizer:       ev.Organizer.EmailAddress.Name,
			IsOnlineMeeting: ev.IsOnlineMeeting,
		}
		for _, a := range ev.Attendees {
			// Conference rooms book as resource attendees; they are not people.
			if strings.EqualFold(a.Type, "resource") {
				continue
			}
			if a.EmailAddress.Name != "" {
				m.Participants = append(m.Participants, a.EmailAddress.Name)
			}
		}
		// The view window is wide; keep only events actually covering at.
		if !m.Start.IsZero() && !m.End.IsZero() {
			if m.Start.After(at) || m.End.Before(at) {
				continue
			}
		}
		meetings = append(meetings, m)
	}
	sort.Slice(meetings, func(i, j int) bool { return meetings[i].Start.Before(meetings[j].Start) })
	return meetings, nil
}

// Profile is the signed-in user's identity, used to confirm the connection.
type Profile struct {
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

// Email returns the best available address for the profile.
func (p Profile) Email() string {
	if p.Mail != "" {
		return p.Mail
	}
	return p.UserPrincipalName
}

// Me fetches the signed-in user's profile.
func (c *Client) Me(ctx context.Context) (*Profile, error) {
	if c.cfg.AccessToken == "" {
		return nil, fmt.Errorf("not signed in")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.graphBase+"/me", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profile: status %d", resp.StatusCode)
	}
	var p Profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ── Call enrichment ──────────────────────────────────────────────────────────

// EnrichCall implements calltrack.Enricher: the first online meeting covering
// startedAt wins; any meeting covering it is a fallback. A nil result means
// the calendar had nothing useful.
func (c *Client) EnrichCall(ctx context.Context, startedAt time.Time) (*calltrack.Enrichment, error) {
	meetings, err := c.CurrentMeetings(ctx, startedAt)
	if err != nil {
		return nil, err
	}
	if len(meetings) == 0 {
		return nil, nil
	}

	best := meetings[0]
	for _, m := range meetings {
		if m.IsOnlineMeeting {
			best = m
			break
		}
	}
	return &calltrack.Enrichment{
		Subject:      best.Subject,
		Participants: best.Participants,
	}, nil
}
