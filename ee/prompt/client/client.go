package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/pushauth/agent/ee/prompt"
)

type transport struct {
	authToken string
	base      http.Transport
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", t.authToken))
	return t.base.RoundTrip(req)
}

// client talks to the user-session prompt surface over its local socket.
type client struct {
	base http.Client
}

func New(authToken, socketPath string) *client {
	transport := &transport{
		authToken: authToken,
		base: http.Transport{
			DialContext: dialContext(socketPath),
		},
	}

	return &client{
		base: http.Client{
			Transport: transport,
			// No timeout: a confirmation prompt is modal and stays open
			// until the user responds or dismisses it.
		},
	}
}

func dialContext(socketPath string) func(ctx context.Context, _ string, _ string) (net.Conn, error) {
	return func(ctx context.Context, _ string, _ string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "unix", socketPath)
	}
}

// Prompt presents a confirmation prompt and blocks until the user responds.
// A dismissal or transport failure is returned as an error; callers treat
// both as the user declining.
func (c *client) Prompt(ctx context.Context, req prompt.Request) (bool, error) {
	rawRequest, err := json.Marshal(req)
	if err != nil {
		return false, fmt.Errorf("marshaling prompt request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://unix/v1/prompt", bytes.NewReader(rawRequest))
	if err != nil {
		return false, fmt.Errorf("creating prompt request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.base.Do(request)
	if err != nil {
		return false, fmt.Errorf("making prompt request: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return false, fmt.Errorf("unexpected status %d from prompt surface", response.StatusCode)
	}

	var promptResponse prompt.Response
	if err := json.NewDecoder(response.Body).Decode(&promptResponse); err != nil {
		return false, fmt.Errorf("decoding prompt response: %w", err)
	}

	return promptResponse.Approved, nil
}

// Ping checks that the prompt surface is up and accepting requests.
func (c *client) Ping(ctx context.Context) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://unix/v1/ping", nil)
	if err != nil {
		return fmt.Errorf("creating ping request: %w", err)
	}

	response, err := c.base.Do(request)
	if err != nil {
		return fmt.Errorf("making ping request: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from prompt surface", response.StatusCode)
	}

	return nil
}
