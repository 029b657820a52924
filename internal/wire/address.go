package wire

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/mdlayher/vsock"
)

// Address is a parsed engine endpoint.
type Address struct {
	Network string // tcp, unix or vsock
	Addr    string // host:port or socket path
	CID     uint32
	Port    uint32
}

func (a Address) String() string {
	if a.Network == "vsock" {
		return fmt.Sprintf("vsock://%d:%d", a.CID, a.Port)
	}
	return a.Network + "://" + a.Addr
}

// ParseAddress accepts tcp://host:port, unix:///path, vsock://cid:port and
// bare host:port, which means TCP.
func ParseAddress(s string) (Address, error) {
	network, rest, ok := strings.Cut(s, "://")
	if !ok {
		network, rest = "tcp", s
	}

	switch network {
	case "tcp", "tcp4", "tcp6":
		if _, _, err := net.SplitHostPort(rest); err != nil {
			return Address{}, fmt.Errorf("invalid tcp address %q: %w", s, err)
		}
		return Address{Network: network, Addr: rest}, nil
	case "unix":
		if rest == "" {
			return Address{}, fmt.Errorf("invalid unix address %q", s)
		}
		return Address{Network: network, Addr: rest}, nil
	case "vsock":
		cidStr, portStr, ok := strings.Cut(rest, ":")
		if !ok {
			return Address{}, fmt.Errorf("invalid vsock address %q: want vsock://cid:port", s)
		}
		cid, err := strconv.ParseUint(cidStr, 10, 32)
		if err != nil {
			return Address{}, fmt.Errorf("invalid vsock cid in %q: %w", s, err)
		}
		port, err := strconv.ParseUint(portStr, 10, 32)
		if err != nil {
			return Address{}, fmt.Errorf("invalid vsock port in %q: %w", s, err)
		}
		return Address{Network: network, CID: uint32(cid), Port: uint32(port)}, nil
	}
	return Address{}, fmt.Errorf("unsupported network %q in %q", network, s)
}

// Dial connects to a.
func Dial(ctx context.Context, a Address, timeout time.Duration) (net.Conn, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if a.Network != "vsock" {
		var d net.Dialer
		return d.DialContext(ctx, a.Network, a.Addr)
	}

	// vsock.Dial has no context support; run it aside and give up on ctx.
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := vsock.Dial(a.CID, a.Port, nil)
		ch <- result{conn, err}
	}()
	select {
	case r := <-ch:
		return r.conn, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// Listen opens a listener on a. For vsock only the port is used.
func Listen(a Address) (net.Listener, error) {
	if a.Network == "vsock" {
		return vsock.Listen(a.Port, nil)
	}
	return net.Listen(a.Network, a.Addr)
}
