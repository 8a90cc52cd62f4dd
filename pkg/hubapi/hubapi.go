package hubapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Type definitions of data transfer objects (DTO) of the hub activity API
type DtoServerActivity struct {
	LastActivity string `json:"last_activity"`
}

type DtoActivity struct {
	Servers      map[string]DtoServerActivity `json:"servers,omitempty"`
	LastActivity string                       `json:"last_activity"`
}

// Client reports activity of a single-user server to the JupyterHub REST API, the same
// endpoint jupyterhub-singleuser uses. The hub's idle culler reads last_activity from it.
type Client struct {
	apiURL     string
	apiToken   string
	user       string
	server     string
	httpClient *http.Client
}

func NewClient(apiURL string, apiToken string, user string, server string) *Client {
	return &Client{
		apiURL:     strings.TrimRight(apiURL, "/"),
		apiToken:   apiToken,
		user:       user,
		server:     server,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) activityURL() string {
	return c.apiURL + "/users/" + url.PathEscape(c.user) + "/activity"
}

func (c *Client) ReportActivity(ctx context.Context, at time.Time) error {
	ts := at.UTC().Format("2006-01-02T15:04:05.000000Z")
	body := DtoActivity{
		Servers:      map[string]DtoServerActivity{c.server: {LastActivity: ts}},
		LastActivity: ts,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.activityURL(), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "token "+c.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("hub activity API returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	return nil
}
