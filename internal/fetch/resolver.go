package fetch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/scrtlabs/attesthub/internal/logx"
)

// Resolver is one endpoint-resolution strategy. Strategies are tried in
// order until one yields an endpoint.
type Resolver func(ctx context.Context) (string, bool)

// ResolveEndpoint runs resolvers in order and returns the first endpoint.
func ResolveEndpoint(ctx context.Context, resolvers ...Resolver) (string, error) {
	for _, r := range resolvers {
		if ep, ok := r(ctx); ok {
			return ep, nil
		}
	}
	return "", ErrNoEndpoint
}

// Explicit resolves to a configured endpoint URL, when set.
func Explicit(endpoint string) Resolver {
	return func(ctx context.Context) (string, bool) {
		ep := strings.TrimSpace(endpoint)
		return ep, ep != ""
	}
}

// Gateway resolves the attestation endpoint through an internal gateway
// hostname, the path a containerized hub takes to reach its own host VM.
func Gateway(host string, port int, path string) Resolver {
	return func(ctx context.Context) (string, bool) {
		if host == "" {
			return "", false
		}
		resolver := net.DefaultResolver
		addrs, err := resolver.LookupHost(ctx, host)
		if err != nil || len(addrs) == 0 {
			logx.Debugf("fetch: gateway host %s did not resolve: %v", host, err)
			return "", false
		}
		return fmt.Sprintf("https://%s:%d%s", host, port, path), true
	}
}

// DefaultIPServices are the public address-echo services consulted when no
// explicit endpoint or gateway is available.
var DefaultIPServices = []string{
	"https://api.ipify.org",
	"https://ifconfig.me/ip",
	"https://icanhazip.com",
}

// ExternalIP discovers the VM's public address from address-echo services
// and builds the well-known attestation URL from it.
func ExternalIP(services []string, port int, path string, client *http.Client) Resolver {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if len(services) == 0 {
		services = DefaultIPServices
	}
	return func(ctx context.Context) (string, bool) {
		for _, svc := range services {
			ip, err := queryIPService(ctx, client, svc)
			if err != nil {
				logx.Debugf("fetch: ip discovery via %s failed: %v", svc, err)
				continue
			}
			return fmt.Sprintf("https://%s:%d%s", ip, port, path), true
		}
		return "", false
	}
}

func queryIPService(ctx context.Context, client *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return "", err
	}
	ip := strings.TrimSpace(string(body))
	if net.ParseIP(ip) == nil {
		return "", fmt.Errorf("response %q is not an IP address", ip)
	}
	return ip, nil
}
