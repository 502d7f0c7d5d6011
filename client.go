package tftp

import (
	"context"
	"io"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// ClientOption configures the ephemeral engine a client convenience
// function opens.
type ClientOption func(*clientConfig)

type clientConfig struct {
	interval time.Duration
	metrics  *Metrics
}

// WithClientRetransmitInterval overrides the default 2s retransmit timer.
func WithClientRetransmitInterval(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.interval = d }
}

// WithClientMetrics installs a Metrics collaborator on the client engine.
func WithClientMetrics(m *Metrics) ClientOption {
	return func(c *clientConfig) { c.metrics = m }
}

func newClientConfig(opts []ClientOption) *clientConfig {
	c := &clientConfig{interval: 2 * time.Second}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ParseURL splits a tftp://host[:port]/filename URL into its parts,
// defaulting the port to 69 (spec §6). The filename is taken verbatim
// from the URL path with its leading slash stripped.
func ParseURL(raw string) (host string, port int, filename string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, "", errors.Wrap(err, "tftp: parse url")
	}
	if u.Scheme != "tftp" {
		return "", 0, "", errors.Errorf("tftp: unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return "", 0, "", errors.New("tftp: url has no host")
	}
	port = 69
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", 0, "", errors.Wrap(err, "tftp: parse port")
		}
	}
	filename = u.Path
	if len(filename) > 0 && filename[0] == '/' {
		filename = filename[1:]
	}
	return u.Hostname(), port, filename, nil
}

func resolveServerTID(host string, port int) (TID, error) {
	ips, err := net.LookupHost(host)
	if err != nil {
		return TID{}, errors.Wrapf(err, "tftp: resolve %q", host)
	}
	for _, ip := range ips {
		if parsed := net.ParseIP(ip); parsed != nil && parsed.To4() != nil {
			return TID{IP: parsed.To4().String(), Port: port}, nil
		}
	}
	return TID{}, errors.Errorf("tftp: no IPv4 address for %q", host)
}

// Read performs a RRQ against rawURL and returns the transferred
// bytes. It is the client convenience function named in spec §6.
func Read(ctx context.Context, rawURL string, opts ...ClientOption) ([]byte, error) {
	host, port, filename, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	cfg := newClientConfig(opts)
	server, err := resolveServerTID(host, port)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, errors.Wrap(err, "tftp: open client socket")
	}
	in := NewInbound(conn, TID{}, false, cfg.interval, 0, cfg.metrics, nil)
	defer in.Close()
	stop := context.AfterFunc(ctx, func() { in.Stream.SetException(ctx.Err()) })
	defer stop()

	if err := in.SendRequest(filename, server); err != nil {
		return nil, err
	}
	in.ServeRRQ()

	var out []byte
	buf := make([]byte, maxPayload)
	for {
		n, rerr := in.Stream.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if rerr != nil {
			if rerr == io.EOF {
				return out, nil
			}
			return out, rerr
		}
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		default:
		}
	}
}

// Write performs a WRQ against rawURL, sending data in full. It is the
// client convenience function named in spec §6.
func Write(ctx context.Context, rawURL string, data []byte, opts ...ClientOption) error {
	host, port, filename, err := ParseURL(rawURL)
	if err != nil {
		return err
	}
	cfg := newClientConfig(opts)
	server, err := resolveServerTID(host, port)
	if err != nil {
		return err
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return errors.Wrap(err, "tftp: open client socket")
	}
	out := NewOutbound(conn, TID{}, false, cfg.interval, cfg.metrics, nil)
	defer out.Close()

	if err := out.Start(ctx, filename, server); err != nil {
		return err
	}

	body := data
	for {
		n := len(body)
		if n > maxPayload {
			n = maxPayload
		}
		chunk := body[:n]
		body = body[n:]

		if err := out.Write(ctx, chunk); err != nil {
			return err
		}
		if len(chunk) < maxPayload {
			return nil
		}
	}
}
