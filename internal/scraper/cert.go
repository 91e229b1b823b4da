package scraper

import (
	"context"
	"crypto/tls"
	"net"
	"net/url"
	"time"

	"github.com/obsidianstack/pdrelay/internal/config"
)

// CertDaysLeftFamily is the synthetic metric family added to the Result of an
// HTTPS target: days until the leaf certificate expires. Rules can use it
// like any scraped family, e.g. "tls_cert_days_left < 14".
const CertDaysLeftFamily = "tls_cert_days_left"

const certDialTimeout = 10 * time.Second

// certDaysLeft dials the target's TLS endpoint and returns the number of days
// until its leaf certificate expires (negative once expired).
//
// Returns false for non-HTTPS endpoints and when the handshake fails.
func certDaysLeft(ctx context.Context, target config.Target, now time.Time) (float64, bool) {
	u, err := url.Parse(target.Endpoint)
	if err != nil || u.Scheme != "https" {
		return 0, false
	}

	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "443")
	}

	dialCtx, cancel := context.WithTimeout(ctx, certDialTimeout)
	defer cancel()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config: &tls.Config{
			InsecureSkipVerify: target.TLS.InsecureSkipVerify, //nolint:gosec // user-configured
		},
	}
	netConn, err := dialer.DialContext(dialCtx, "tcp", host)
	if err != nil {
		return 0, false
	}
	conn := netConn.(*tls.Conn)
	defer conn.Close()

	peerCerts := conn.ConnectionState().PeerCertificates
	if len(peerCerts) == 0 {
		return 0, false
	}
	return peerCerts[0].NotAfter.Sub(now).Hours() / 24, true
}
