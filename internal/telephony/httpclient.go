package telephony

import (
	"net"
	"net/http"
	"time"
)

// NewHTTPClient returns the client used for the Flowroute API. The bridge
// polls one host about once a second, so a few idle keep-alive connections
// held for 90s let every poll reuse an open TLS session instead of paying a
// handshake each time. MaxIdleConnsPerHost is 4 because a poll and a burst of
// sends can overlap. ResponseHeaderTimeout equals the overall timeout so a
// stalled provider fails the request before the next poll tick piles up
// behind it.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
