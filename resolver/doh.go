package resolver

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/smarthomeos/tinydns/dnsmsg"
	"github.com/smarthomeos/tinydns/internal/metrics"
)

const (
	dohPath        = "/dns-query"
	dohContentType = "application/dns-message"
	dohMaxBody     = 65535
)

// dohClient POSTs wire-format queries per RFC 8484. The transport
// negotiates HTTP/2 where the server offers it.
type dohClient struct {
	hc *http.Client
}

func newDoHClient(timeout time.Duration) *dohClient {
	return &dohClient{
		hc: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				ForceAttemptHTTP2:   true,
				TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// exchange POSTs the query to the server's host literal and parses the
// reply. Non-2xx statuses and transport errors are returned for the
// caller's fallback logic.
func (c *dohClient) exchange(ctx context.Context, server net.IP, query []byte) (*dnsmsg.Message, error) {
	url := dohURL(server)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(query))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", dohContentType)
	req.Header.Set("Accept", dohContentType)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("doh: status %d from %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, dohMaxBody))
	if err != nil {
		return nil, err
	}

	msg, err := dnsmsg.ParseMessage(body)
	if err != nil {
		metrics.ParseErrors.Inc()
		return nil, err
	}
	return msg, nil
}

// dohURL builds the template URL for a server's host literal.
func dohURL(server net.IP) string {
	host := server.String()
	if server.To4() == nil {
		host = "[" + host + "]"
	}
	return "https://" + host + dohPath
}
