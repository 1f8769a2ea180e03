package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// HTTPClient confirms approved login attempts with the authorization backend
type HTTPClient struct {
	logger     log.Logger
	addr       string
	baseURL    *url.URL
	client     *http.Client
	authToken  string
	insecure   bool
	disableTLS bool
}

func New(logger log.Logger, addr string, authToken string, opts ...HTTPClientOption) (*HTTPClient, error) {
	c := &HTTPClient{
		logger:    logger,
		addr:      addr,
		authToken: authToken,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	scheme := "https"
	if c.disableTLS {
		scheme = "http"
	}

	baseURL, err := url.Parse(fmt.Sprintf("%s://%s", scheme, addr))
	if err != nil {
		return nil, fmt.Errorf("parsing URL: %w", err)
	}
	c.baseURL = baseURL

	return c, nil
}

type authorizeRequest struct {
	Token string `json:"push_auth_token"`
}

// Authorize confirms the login attempt identified by token. A non-OK
// response from the backend is an error; callers decide whether to surface
// it.
func (c *HTTPClient) Authorize(ctx context.Context, token string) error {
	rawBody, err := json.Marshal(authorizeRequest{Token: token})
	if err != nil {
		return fmt.Errorf("marshaling authorize request body: %w", err)
	}

	response, err := c.do(ctx, http.MethodPost, "/api/v1/push-auth/authorize", bytes.NewReader(rawBody))
	if err != nil {
		level.Error(c.logger).Log(
			"msg", "error making request to authorization backend",
			"err", err,
		)
		return fmt.Errorf("making authorize request: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		level.Error(c.logger).Log(
			"msg", "got not-ok status code from authorization backend",
			"response_code", response.StatusCode,
		)
		return fmt.Errorf("authorization backend returned %d", response.StatusCode)
	}

	return nil
}

func (c *HTTPClient) do(ctx context.Context, verb, path string, body *bytes.Reader) (*http.Response, error) {
	request, err := http.NewRequestWithContext(
		ctx,
		verb,
		c.url(path).String(),
		body,
	)
	if err != nil {
		return nil, fmt.Errorf("creating request object: %w", err)
	}

	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	request.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.authToken))

	return c.client.Do(request)
}

func (c *HTTPClient) url(path string) *url.URL {
	u := *c.baseURL
	u.Path = path
	return &u
}
