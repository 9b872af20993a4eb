package security

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// MediaURLChecker はブログのカバー画像などの外部メディアURLを保存前に確認する。
type MediaURLChecker interface {
	// ValidateURL はDNS解決を伴わない静的な検証を行う。
	ValidateURL(rawURL string) error

	// Preflight は静的検証に加え、実際にURLへアクセスして画像であることを確認する。
	Preflight(ctx context.Context, rawURL string) error
}

// blockedNetworks は静的検証でブロックするネットワーク範囲。
// 実際の接続時はsafeurlのDialer検証がDNS解決後のアドレスを確認する。
var blockedNetworks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16", // クラウドメタデータIPを含む
	"0.0.0.0/8",
	"::1/128",
	"fe80::/10",
	"fc00::/7",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	networks := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		networks = append(networks, network)
	}
	return networks
}

// mediaURLGuard はMediaURLCheckerの実装。
type mediaURLGuard struct {
	client *http.Client
}

// NewMediaURLGuard はsafeurlのクライアントを使うMediaURLCheckerを生成する。
// プライベートIP、ループバック、リンクローカル、メタデータIPへの接続は
// DNS解決後のアドレスに対してもブロックされる。
func NewMediaURLGuard(timeout time.Duration) *mediaURLGuard {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("https").
		SetAllowedPorts(443).
		Build()

	return &mediaURLGuard{client: safeurl.Client(config).Client}
}

// ValidateURL はURLの安全性を事前に検証する。
// httpsのみ許可し、空ホスト、ブロック対象IP、localhostを拒否する。
func (g *mediaURLGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if !strings.EqualFold(parsed.Scheme, "https") {
		return fmt.Errorf("disallowed scheme: %q (allowed: https)", parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		for _, network := range blockedNetworks {
			if network.Contains(ip) {
				return fmt.Errorf("blocked IP address: %s", ip.String())
			}
		}
		return nil
	}

	lower := strings.ToLower(host)
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}

	return nil
}

// Preflight はURLを静的に検証した後、HEADリクエストで画像であることを確認する。
func (g *mediaURLGuard) Preflight(ctx context.Context, rawURL string) error {
	if err := g.ValidateURL(rawURL); err != nil {
		return err
	}
	return g.preflight(ctx, rawURL)
}

// preflight はHEADでステータスとContent-Typeを確認する。
// HEADを受け付けないサーバーにはGETで再試行し、本文は読まずに閉じる。
func (g *mediaURLGuard) preflight(ctx context.Context, rawURL string) error {
	resp, err := g.send(ctx, http.MethodHead, rawURL)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusMethodNotAllowed {
		resp, err = g.send(ctx, http.MethodGet, rawURL)
		if err != nil {
			return err
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("media URL returned status %d", resp.StatusCode)
	}
	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if !strings.HasPrefix(contentType, "image/") {
		return fmt.Errorf("media URL is not an image: %q", contentType)
	}
	return nil
}

func (g *mediaURLGuard) send(ctx context.Context, method, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid media URL: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("media URL is unreachable: %w", err)
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
	resp.Body.Close()
	return resp, nil
}
