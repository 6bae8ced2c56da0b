package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	utls "github.com/refraction-networking/utls"
)

// dialIPPreferred resolves addr and dials IPv4 first, falling back to IPv6
// if every IPv4 candidate fails, per §2's "prefers IPv4 with IPv6 fallback".
func dialIPPreferred(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		host, port = addr, ""
	}

	dialer := &net.Dialer{}

	if ip := net.ParseIP(host); ip != nil {
		return dialer.DialContext(ctx, network, addr)
	}

	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		// Fall back to the stdlib's own resolution/dialing, which already
		// races families reasonably; this keeps unresolvable-but-dialable
		// hosts (e.g. /etc/hosts entries) working.
		return dialer.DialContext(ctx, network, addr)
	}

	var v4, v6 []net.IPAddr
	for _, ip := range ips {
		if ip.IP.To4() != nil {
			v4 = append(v4, ip)
		} else {
			v6 = append(v6, ip)
		}
	}

	var lastErr error
	for _, ip := range append(v4, v6...) {
		conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip.IP.String(), port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("transport: no addresses resolved for %s", host)
	}
	return nil, lastErr
}

// dialUTLS establishes a direct TLS connection using utls with a Chrome
// fingerprint, over an IPv4-preferred dial.
func dialUTLS(ctx context.Context, network, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	rawConn, err := dialIPPreferred(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	return uTLSHandshake(ctx, rawConn, host)
}

// dialUTLSViaConn wraps an existing connection (e.g. from a proxy) with utls TLS.
func dialUTLSViaConn(ctx context.Context, rawConn net.Conn, serverName string) (net.Conn, error) {
	return uTLSHandshake(ctx, rawConn, serverName)
}

// uTLSHandshake performs the utls handshake on a raw connection.
func uTLSHandshake(ctx context.Context, rawConn net.Conn, serverName string) (net.Conn, error) {
	tlsConn := utls.UClient(rawConn, &utls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: false,
		MinVersion:         tls.VersionTLS12,
	}, utls.HelloChrome_Auto)

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, err
	}

	return tlsConn, nil
}
