package transport

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"golang.org/x/net/proxy"
)

// ProxyConfig is the process-wide proxy configuration sourced from the
// PROXY env value (spec §6), not per-account — the spec describes a single
// transport honoring "process-wide proxy configuration" (§2).
type ProxyConfig struct {
	Scheme   string // socks5 | http | https
	Host     string
	Port     int
	Username string
	Password string
}

// ParseProxyURL parses a "scheme://[user:pass@]host:port" value. An empty
// input returns (nil, nil): no proxy configured.
func ParseProxyURL(raw string) (*ProxyConfig, error) {
	if raw == "" {
		return nil, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("transport: invalid PROXY url: %w", err)
	}
	host := u.Hostname()
	port := 0
	if p := u.Port(); p != "" {
		fmt.Sscanf(p, "%d", &port)
	}
	pc := &ProxyConfig{Scheme: u.Scheme, Host: host, Port: port}
	if u.User != nil {
		pc.Username = u.User.Username()
		pc.Password, _ = u.User.Password()
	}
	return pc, nil
}

// proxyDialer returns a DialTLSContext function that connects through the
// configured proxy and wraps the connection with utls TLS.
func proxyDialer(pcfg *ProxyConfig) func(ctx context.Context, network, addr string) (net.Conn, error) {
	switch pcfg.Scheme {
	case "socks5":
		return socks5Dialer(pcfg)
	default:
		return httpConnectDialer(pcfg)
	}
}

func socks5Dialer(pcfg *ProxyConfig) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		proxyAddr := fmt.Sprintf("%s:%d", pcfg.Host, pcfg.Port)

		var auth *proxy.Auth
		if pcfg.Username != "" {
			auth = &proxy.Auth{User: pcfg.Username, Password: pcfg.Password}
		}

		dialer, err := proxy.SOCKS5("tcp", proxyAddr, auth, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("socks5 dialer: %w", err)
		}

		rawConn, err := dialer.Dial(network, addr)
		if err != nil {
			return nil, fmt.Errorf("socks5 dial: %w", err)
		}

		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			rawConn.Close()
			return nil, err
		}

		return dialUTLSViaConn(ctx, rawConn, host)
	}
}

func httpConnectDialer(pcfg *ProxyConfig) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		proxyAddr := fmt.Sprintf("%s:%d", pcfg.Host, pcfg.Port)

		rawConn, err := dialIPPreferred(ctx, "tcp", proxyAddr)
		if err != nil {
			return nil, fmt.Errorf("proxy tcp dial: %w", err)
		}

		connectReq := &http.Request{
			Method: http.MethodConnect,
			URL:    nil,
			Host:   addr,
			Header: make(http.Header),
		}

		if pcfg.Username != "" {
			cred := base64.StdEncoding.EncodeToString([]byte(pcfg.Username + ":" + pcfg.Password))
			connectReq.Header.Set("Proxy-Authorization", "Basic "+cred)
		}

		if err := connectReq.Write(rawConn); err != nil {
			rawConn.Close()
			return nil, fmt.Errorf("proxy CONNECT write: %w", err)
		}

		resp, err := http.ReadResponse(bufio.NewReader(rawConn), connectReq)
		if err != nil {
			rawConn.Close()
			return nil, fmt.Errorf("proxy CONNECT read: %w", err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			rawConn.Close()
			return nil, fmt.Errorf("proxy CONNECT failed: %s", resp.Status)
		}

		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			rawConn.Close()
			return nil, err
		}

		return dialUTLSViaConn(ctx, rawConn, host)
	}
}
