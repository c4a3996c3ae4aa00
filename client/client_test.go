package client_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/dkoval/jobsift/client"
	"github.com/dkoval/jobsift/fingerprint"
)

func TestNew_Defaults(t *testing.T) {
	c, err := client.New(client.Options{Profile: fingerprint.Chrome()})
	if err != nil {
		t.Fatal(err)
	}
	if c.Jar == nil {
		t.Error("client has no cookie jar")
	}
	if c.Timeout != 30*time.Second {
		t.Errorf("default timeout = %v, want 30s", c.Timeout)
	}
	tr, ok := c.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("transport is %T, want *http.Transport", c.Transport)
	}
	if tr.DialTLSContext == nil {
		t.Error("profile set but no custom TLS dialer installed")
	}
}

func TestNew_NoProfileUsesStandardTLS(t *testing.T) {
	c, err := client.New(client.Options{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	tr := c.Transport.(*http.Transport)
	if tr.DialTLSContext != nil {
		t.Error("no profile but a custom TLS dialer was installed")
	}
	if c.Timeout != 5*time.Second {
		t.Errorf("timeout = %v, want 5s", c.Timeout)
	}
}

func TestNew_ProxyWiring(t *testing.T) {
	c, err := client.New(client.Options{Proxy: "http://127.0.0.1:8080"})
	if err != nil {
		t.Fatal(err)
	}
	tr := c.Transport.(*http.Transport)
	if tr.Proxy == nil {
		t.Fatal("proxy URL was not attached to the transport")
	}
	req, _ := http.NewRequest(http.MethodGet, "https://example.com/", nil)
	u, err := tr.Proxy(req)
	if err != nil || u == nil || u.Host != "127.0.0.1:8080" {
		t.Errorf("proxy func returned %v, %v", u, err)
	}
}

func TestNew_InvalidProxyErrors(t *testing.T) {
	if _, err := client.New(client.Options{Proxy: "http://[::1"}); err == nil {
		t.Fatal("expected error for malformed proxy URL")
	}
}

func TestApplyHeaders_ConfigWins(t *testing.T) {
	p := fingerprint.Chrome()
	headers := map[string]string{"User-Agent": "custom/1.0"}
	p.ApplyHeaders(headers)
	if headers["User-Agent"] != "custom/1.0" {
		t.Errorf("profile overwrote configured User-Agent: %q", headers["User-Agent"])
	}
	if headers["Accept-Language"] == "" {
		t.Error("profile headers not merged")
	}
}
