package scraper

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/obsidianstack/pdrelay/internal/config"
)

const defaultScrapeTimeout = 10 * time.Second

// Result is the output of one scrape of a single target.
type Result struct {
	TargetID  string
	ScrapedAt time.Time

	// Families holds, per metric family name, the sum of all its series.
	Families map[string]float64

	// Err is non-nil if the scrape itself failed (connectivity, auth, parse).
	// Rules are not evaluated against a failed scrape.
	Err error
}

// Value returns the summed value of the named metric family.
func (r *Result) Value(family string) (float64, bool) {
	v, ok := r.Families[family]
	return v, ok
}

// authRoundTripper injects authentication headers into every outgoing request.
type authRoundTripper struct {
	base   http.RoundTripper
	target config.Target
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	auth := t.target.Auth
	switch auth.Mode {
	case "apikey":
		req = req.Clone(req.Context())
		req.Header.Set(auth.Header, auth.Key())
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+auth.Token())
	case "basic":
		req = req.Clone(req.Context())
		req.SetBasicAuth(auth.Username, auth.Password())
	}
	return t.base.RoundTrip(req)
}

// buildHTTPClient constructs an http.Client for the target's auth and TLS settings.
func buildHTTPClient(target config.Target) (*http.Client, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: target.TLS.InsecureSkipVerify, //nolint:gosec // user-configured
	}

	if target.Auth.Mode == "mtls" {
		cert, err := tls.LoadX509KeyPair(target.Auth.CertFile, target.Auth.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}

		if target.Auth.CAFile != "" {
			caPEM, err := os.ReadFile(target.Auth.CAFile)
			if err != nil {
				return nil, fmt.Errorf("read ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caPEM) {
				return nil, fmt.Errorf("no valid certs found in ca file %q", target.Auth.CAFile)
			}
			tlsCfg.RootCAs = pool
		}
	}

	return &http.Client{
		Transport: &authRoundTripper{
			base:   &http.Transport{TLSClientConfig: tlsCfg},
			target: target,
		},
		Timeout: defaultScrapeTimeout,
	}, nil
}

// fetchMetrics performs an HTTP GET to url and returns parsed metric families.
func fetchMetrics(ctx context.Context, client *http.Client, url string) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parseMetrics(resp.Body)
}

// parseMetrics decodes a Prometheus text exposition from r into metric families.
// Any parse error fails the whole scrape: the parser stops at the bad line,
// and families after it would otherwise read as absent.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// sumFamily adds up all counter, gauge, or untyped values in a MetricFamily.
// Histograms and summaries contribute their sample count.
func sumFamily(mf *dto.MetricFamily) float64 {
	if mf == nil {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		switch {
		case m.Counter != nil:
			total += m.Counter.GetValue()
		case m.Gauge != nil:
			total += m.Gauge.GetValue()
		case m.Untyped != nil:
			total += m.Untyped.GetValue()
		case m.Histogram != nil:
			total += float64(m.Histogram.GetSampleCount())
		case m.Summary != nil:
			total += float64(m.Summary.GetSampleCount())
		}
	}
	return total
}
