package web_service_available

import (
	"net/http"
	"time"
)

// newClient builds the client shared by every row of one step copy.
func newClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// closeClient releases the idle connections of c.
func closeClient(c *http.Client) {
	if c != nil {
		c.CloseIdleConnections()
	}
}
