package playback

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/antiprophet/studio/internal/config"
	"github.com/antiprophet/studio/internal/metrics"
	"github.com/antiprophet/studio/pkg/models"
)

// DefaultProbeHost matches S3 virtual-hosted and path-style hostnames
const DefaultProbeHost = `(^|\.)s3[.-]?([a-z0-9-]+\.)*amazonaws\.com$`

// Prober checks cross-origin headers of cloud storage hosts. Its result
// is informational and never changes the playback strategy.
type Prober struct {
	client   *http.Client
	patterns []*regexp.Regexp
	origin   string
}

// NewProber compiles the configured host patterns
func NewProber(cfg config.PlaybackConfig) (*Prober, error) {
	hosts := cfg.ProbeHosts
	if len(hosts) == 0 {
		hosts = []string{DefaultProbeHost}
	}

	patterns := make([]*regexp.Regexp, 0, len(hosts))
	for _, h := range hosts {
		re, err := regexp.Compile(h)
		if err != nil {
			return nil, fmt.Errorf("invalid probe host pattern %q: %w", h, err)
		}
		patterns = append(patterns, re)
	}

	timeout := cfg.ProbeTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Prober{
		client:   &http.Client{Timeout: timeout},
		patterns: patterns,
		origin:   cfg.ProbeOrigin,
	}, nil
}

// WithHTTPClient replaces the client used for probes
func (p *Prober) WithHTTPClient(c *http.Client) *Prober {
	p.client = c
	return p
}

// Matches reports whether rawURL is hosted on a probed domain
func (p *Prober) Matches(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Hostname() == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, re := range p.patterns {
		if re.MatchString(host) {
			return true
		}
	}
	return false
}

// Check issues a HEAD request and reports ok iff the answer carries an
// Access-Control-Allow-Origin header.
func (p *Prober) Check(ctx context.Context, rawURL string) models.ProbeStatus {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		metrics.RecordCORSProbe(string(models.ProbeError))
		return models.ProbeError
	}
	if p.origin != "" {
		req.Header.Set("Origin", p.origin)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		metrics.RecordCORSProbe(string(models.ProbeError))
		return models.ProbeError
	}
	resp.Body.Close()

	status := models.ProbeError
	if resp.Header.Get("Access-Control-Allow-Origin") != "" {
		status = models.ProbeOK
	}
	metrics.RecordCORSProbe(string(status))
	return status
}
