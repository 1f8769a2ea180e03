package client

import (
	"crypto/tls"
	"net/http"
	"time"
)

type HTTPClientOption func(*HTTPClient)

func WithInsecureSkipVerify() HTTPClientOption {
	return func(c *HTTPClient) {
		c.client = &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		}
		c.insecure = true
	}
}

func WithDisableTLS() HTTPClientOption {
	return func(c *HTTPClient) {
		c.disableTLS = true
	}
}
