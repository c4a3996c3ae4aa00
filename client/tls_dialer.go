package client

import (
	"context"
	"fmt"
	"net"

	utls "github.com/refraction-networking/utls"
)

// UTLSDialer returns a function compatible with
// http.Transport.DialTLSContext that performs the TLS handshake through
// uTLS, parroting the ClientHello of the browser identified by helloID.
//
// The parrot covers GREASE placeholders, cipher-suite ordering and
// extension ordering, so the resulting JA3 fingerprint matches a real
// browser instead of the Go standard library's distinctive hello.  The
// returned dialer is safe for concurrent use.
//
// SNI is derived from the addr argument; http.Transport passes the request
// host there after applying any per-request overrides.
func UTLSDialer(helloID utls.ClientHelloID) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("client: parse addr %q: %w", addr, err)
		}

		var d net.Dialer
		rawConn, err := d.DialContext(ctx, network, addr)
		if err != nil {
			return nil, fmt.Errorf("client: dial %s: %w", addr, err)
		}

		// UClient applies the full parrot spec for named hello IDs during
		// the handshake; nothing to configure beyond SNI.
		uConn := utls.UClient(rawConn, &utls.Config{ServerName: host}, helloID)
		if err := uConn.HandshakeContext(ctx); err != nil {
			_ = uConn.Close()
			return nil, fmt.Errorf("client: TLS handshake with %s as %s: %w", addr, helloID.Str(), err)
		}
		return uConn, nil
	}
}
