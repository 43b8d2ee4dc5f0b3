// Package useragent provides an http.RoundTripper wrapper that sets the
// User-Agent header on each outgoing request.
//
// Basic usage:
//
//	client := &http.Client{
//		Transport: useragent.Set(http.DefaultTransport, "physicalweb-resolver/1.0"),
//	}
//	resp, err := client.Get("https://...")
package useragent

import "net/http"

// Set wraps provided http.RoundTripper returning a new one that adds given
// agent as User-Agent header for requests without such header. A request
// whose User-Agent header is present, even with an empty value, is passed
// through unchanged.
//
// If rt is a *http.Transport, the returned RoundTripper would have Transport's
// methods visible so they can be accessed after type assertion to required
// interface.
func Set(rt http.RoundTripper, agent string) http.RoundTripper {
	if agent == "" {
		return rt
	}
	if t, ok := rt.(*http.Transport); ok {
		return uaT{t, agent}
	}
	return uaRT{rt, agent}
}

type uaT struct {
	*http.Transport
	userAgent string
}

func (t uaT) RoundTrip(r *http.Request) (*http.Response, error) {
	if _, ok := r.Header["User-Agent"]; ok {
		return t.Transport.RoundTrip(r)
	}
	r2 := new(http.Request)
	*r2 = *r
	r2.Header = make(http.Header, len(r.Header)+1)
	for k, v := range r.Header {
		r2.Header[k] = v
	}
	r2.Header.Set("User-Agent", t.userAgent)
	return t.Transport.RoundTrip(r2)
}

type uaRT struct {
	http.RoundTripper
	userAgent string
}

func (t uaRT) RoundTrip(r *http.Request) (*http.Response, error) {
	if _, ok := r.Header["User-Agent"]; ok {
		return t.RoundTripper.RoundTrip(r)
	}
	r2 := new(http.Request)
	*r2 = *r
	r2.Header = make(http.Header, len(r.Header)+1)
	for k, v := range r.Header {
		r2.Header[k] = v
	}
	r2.Header.Set("User-Agent", t.userAgent)
	return t.RoundTripper.RoundTrip(r2)
}
