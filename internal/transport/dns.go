package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// publicDNS are queried when the system resolver fails.
var publicDNS = []string{
	"1.1.1.1",              // Cloudflare
	"1.0.0.1",              // Cloudflare
	"2606:4700:4700::1111", // Cloudflare
	"8.8.8.8",              // Google
	"8.8.4.4",              // Google
	"2001:4860:4860::8888", // Google
	"9.9.9.9",              // Quad9
	"149.112.112.112",      // Quad9
	"208.67.222.222",       // Cisco OpenDNS
}

// lookup resolves host to one IP address, trying the system resolver first and
// racing the public resolvers if that fails. IP literals are returned as is.
func lookup(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return host, nil
	}

	localCtx, cancel := context.WithTimeout(ctx, time.Second)
	ip, err := lookupWith(localCtx, &net.Resolver{}, host)
	cancel()
	if err == nil {
		return ip, nil
	}

	return raceLookup(ctx, host)
}

func raceLookup(ctx context.Context, host string) (string, error) {
	type result struct {
		ip  string
		err error
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	results := make(chan result, len(publicDNS))
	for _, server := range publicDNS {
		go func(server string) {
			ip, err := lookupWith(ctx, resolverFor(server), host)
			results <- result{ip: ip, err: err}
		}(server)
	}

	for range publicDNS {
		select {
		case res := <-results:
			if res.err == nil {
				return res.ip, nil
			}
		case <-ctx.Done():
			return "", fmt.Errorf("dns lookup for %s timed out", host)
		}
	}
	return "", fmt.Errorf("failed to resolve %s: all %d public DNS servers failed", host, len(publicDNS))
}

// resolverFor forces queries to one DNS server on port 53.
func resolverFor(server string) *net.Resolver {
	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(server, "53"))
		},
	}
}

func lookupWith(ctx context.Context, r *net.Resolver, host string) (string, error) {
	ips, err := r.LookupHost(ctx, host)
	if err != nil {
		return "", err
	}
	if len(ips) == 0 {
		return "", errors.New("no IP addresses found")
	}

	// Prefer IPv4
	for _, ip := range ips {
		if net.ParseIP(ip).To4() != nil {
			return ip, nil
		}
	}
	return ips[0], nil
}
