// Package jira lists the user's open tickets from Jira Cloud so the CLI can
// offer ticket keys as task names. Read-only: nothing is ever written back to
// Jira.
package jira

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	searchPath = "/rest/api/3/search/jql"

	assignedJQL = `assignee = currentUser() AND resolution = Unresolved AND status NOT IN (Done, Installed) ORDER BY project ASC, updated DESC`
	reportedJQL = `reporter = currentUser() AND resolution = Unresolved AND status NOT IN (Done, Installed, "Ready to Install") ORDER BY updated DESC`

	maxResults = 100
)

// Config identifies a Jira Cloud site and the API-token credentials for it.
type Config struct {
	Domain   string // e.g. "yourcompany.atlassian.net"
	Email    string
	APIToken string
	Timeout  time.Duration
}

// Ticket is one issue in a search result.
type Ticket struct {
	Key      string `json:"key"`
	Summary  string `json:"summary"`
	Status   string `json:"status"`
	Project  string `json:"project"`
	Assignee string `json:"assignee,omitempty"`
}

// URL returns the browse link for the ticket on the configured site.
func (t Ticket) URL(domain string) string {
	return fmt.Sprintf("https://%s/browse/%s", domain, t.Key)
}

// TaskName returns the ticket rendered as a time-entry task name.
func (t Ticket) TaskName() string {
	return fmt.Sprintf("%s: %s", t.Key, t.Summary)
}

// Client queries the Jira Cloud search API.
type Client struct {
	cfg     Config
	http    *http.Client
	baseURL string // overrides https://{domain} in tests
}

// New builds a Client. A zero Timeout defaults to 15s.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

// SetBaseURL overrides the site URL. Test hook.
func (c *Client) SetBaseURL(base string) {
	c.baseURL = strings.TrimRight(base, "/")
}

func (c *Client) siteURL() string {
	if c.baseURL != "" {
		return c.baseURL
	}
	return "https://" + c.cfg.Domain
}

func (c *Client) authHeader() string {
	raw := c.cfg.Email + ":" + c.cfg.APIToken
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
}

type searchRequest struct {
	JQL        string   `json:"jql"`
	MaxResults int      `json:"maxResults"`
	Fields     []string `json:"fields"`
}

type searchResponse struct {
	Issues []struct {
		Key    string `json:"key"`
		Fields struct {
			Summary string `json:"summary"`
			Status  struct {
				Name string `json:"name"`
			} `json:"status"`
			Project struct {
				Key  string `json:"key"`
				Name string `json:"name"`
			} `json:"project"`
			Assignee *struct {
				DisplayName string `json:"displayName"`
			} `json:"assignee"`
		} `json:"fields"`
	} `json:"issues"`
}

// AssignedTickets returns the user's open assigned issues, grouped by project
// and freshest first within each.
func (c *Client) AssignedTickets(ctx context.Context) ([]Ticket, error) {
	return c.search(ctx, assignedJQL, []string{"summary", "key", "status", "project"})
}

// ReportedTickets returns open issues the user reported, freshest first.
func (c *Client) ReportedTickets(ctx context.Context) ([]Ticket, error) {
	return c.search(ctx, reportedJQL, []string{"summary", "key", "status", "project", "assignee"})
}

func (c *Client) search(ctx context.Context, jql string, fields []string) ([]Ticket, error) {
	payload, err := json.Marshal(searchRequest{JQL: jql, MaxResults: maxResults, Fields: fields})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.siteURL()+searchPath, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", c.authHeader())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jira search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("jira search: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("jira search: %w", err)
	}

	tickets := make([]Ticket, 0, len(parsed.Issues))
	for _, issue := range parsed.Issues {
		t := Ticket{
			Key:     issue.Key,
			Summary: issue.Fields.Summary,
			Status:  issue.Fields.Status.Name,
			Project: issue.Fields.Project.Name,
		}
		if issue.Fields.Assignee != nil {
			t.Assignee = issue.Fields.Assignee.DisplayName
		}
		tickets = append(tickets, t)
	}
	return tickets, nil
}
