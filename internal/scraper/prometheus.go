package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/obsidianstack/pdrelay/internal/config"
)

// Scraper polls one Prometheus text-exposition endpoint.
type Scraper struct {
	target config.Target
	client *http.Client
}

// New returns a Scraper for target. It builds the HTTP client once and reuses
// it across scrape calls.
func New(target config.Target) (*Scraper, error) {
	client, err := buildHTTPClient(target)
	if err != nil {
		return nil, fmt.Errorf("scraper %q: build http client: %w", target.ID, err)
	}
	return &Scraper{target: target, client: client}, nil
}

// TargetID returns the ID of the scraped target.
func (s *Scraper) TargetID() string { return s.target.ID }

// Scrape fetches the endpoint and sums every metric family it exposes. For
// HTTPS targets the certificate expiry is added as CertDaysLeftFamily.
//
// Fetch and parse failures are reported on Result.Err rather than as the
// returned error, so one broken target does not stop the scrape loop.
func (s *Scraper) Scrape(ctx context.Context) (*Result, error) {
	res := &Result{
		TargetID:  s.target.ID,
		ScrapedAt: time.Now().UTC(),
		Families:  make(map[string]float64),
	}

	mfs, err := fetchMetrics(ctx, s.client, s.target.Endpoint)
	if err != nil {
		res.Err = fmt.Errorf("scrape %q: %w", s.target.ID, err)
		slog.Warn("scraper: fetch failed", "target", s.target.ID, "err", err)
		return res, nil
	}

	for name, mf := range mfs {
		res.Families[name] = sumFamily(mf)
	}
	if days, ok := certDaysLeft(ctx, s.target, res.ScrapedAt); ok {
		res.Families[CertDaysLeftFamily] = days
	}
	return res, nil
}
