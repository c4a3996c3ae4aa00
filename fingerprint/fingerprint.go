// Package fingerprint bundles the correlated browser-identity signals used
// by both fetch paths.
//
// Anti-bot systems correlate the TLS ClientHello (JA3), the HTTP headers,
// and, for rendered pages, navigator/screen properties.  A mismatch
// between any of these is a reliable automation indicator, so the static
// fetcher and the browser pool must draw their identity from the same
// Profile rather than configuring each signal independently.
package fingerprint

import (
	utls "github.com/refraction-networking/utls"
)

// Header is an ordered name-value pair for HTTP headers.
type Header struct {
	Name  string
	Value string
}

// Profile describes one coherent browser identity.
type Profile struct {
	// HelloID selects the uTLS ClientHello parrot for the static fetcher's
	// TLS handshakes.
	HelloID utls.ClientHelloID

	// UserAgent is sent with every request and exposed to rendered pages.
	UserAgent string

	// ExtraHeaders are the static headers a real browser sends alongside a
	// navigation, in browser order.
	ExtraHeaders []Header

	// ViewportWidth/ViewportHeight size headless browser contexts.
	ViewportWidth  int
	ViewportHeight int

	// Locale, Timezone and Geolocation are applied to headless contexts so
	// the rendered environment matches the Accept-Language header.
	Locale    string
	Timezone  string
	Latitude  float64
	Longitude float64
}

// Chrome returns a Profile mimicking a recent Chrome on Windows.  The
// HelloID parrots the matching Chrome ClientHello (GREASE, cipher order,
// extension order) so the TLS and HTTP layers tell the same story.
func Chrome() *Profile {
	return &Profile{
		HelloID: utls.HelloChrome_Auto,
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
			"AppleWebKit/537.36 (KHTML, like Gecko) " +
			"Chrome/131.0.0.0 Safari/537.36",
		ExtraHeaders: []Header{
			{Name: "Accept", Value: "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8"},
			{Name: "Accept-Language", Value: "en-US,en;q=0.9"},
			{Name: "Accept-Encoding", Value: "gzip, deflate, br"},
			{Name: "Sec-Ch-Ua", Value: `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`},
			{Name: "Sec-Ch-Ua-Mobile", Value: "?0"},
			{Name: "Sec-Ch-Ua-Platform", Value: `"Windows"`},
			{Name: "Sec-Fetch-Dest", Value: "document"},
			{Name: "Sec-Fetch-Mode", Value: "navigate"},
			{Name: "Sec-Fetch-Site", Value: "none"},
			{Name: "Upgrade-Insecure-Requests", Value: "1"},
		},
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		Locale:         "en-US",
		Timezone:       "America/New_York",
		Latitude:       40.7128,
		Longitude:      -74.0060,
	}
}

// Firefox returns a Profile mimicking Firefox on Windows, for sources where
// a second identity is useful.
func Firefox() *Profile {
	return &Profile{
		HelloID: utls.HelloFirefox_Auto,
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:133.0) " +
			"Gecko/20100101 Firefox/133.0",
		ExtraHeaders: []Header{
			{Name: "Accept", Value: "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"},
			{Name: "Accept-Language", Value: "en-US,en;q=0.5"},
			{Name: "Accept-Encoding", Value: "gzip, deflate, br"},
			{Name: "Upgrade-Insecure-Requests", Value: "1"},
			{Name: "Sec-Fetch-Dest", Value: "document"},
			{Name: "Sec-Fetch-Mode", Value: "navigate"},
			{Name: "Sec-Fetch-Site", Value: "none"},
		},
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		Locale:         "en-US",
		Timezone:       "America/Chicago",
		Latitude:       41.8781,
		Longitude:      -87.6298,
	}
}

// ApplyHeaders merges the profile's User-Agent and ExtraHeaders into
// headers.  ExtraHeaders are only written when the key is absent, so
// per-feed overrides from configuration take precedence.
func (p *Profile) ApplyHeaders(headers map[string]string) {
	if headers == nil {
		return
	}
	if _, exists := headers["User-Agent"]; !exists && p.UserAgent != "" {
		headers["User-Agent"] = p.UserAgent
	}
	for _, h := range p.ExtraHeaders {
		if _, exists := headers[h.Name]; !exists {
			headers[h.Name] = h.Value
		}
	}
}
