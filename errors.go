package physicalweb

import "errors"

// FetchError wraps a transport, TLS, or timeout failure from Fetcher. It is
// always treated as "drop this URL from the response" during a user request,
// and swallowed silently during a background refresh (§7).
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string { return "fetch " + e.URL + ": " + e.Err.Error() }
func (e *FetchError) Unwrap() error { return e.Err }

// UnexpectedStatusError is raised for any response status outside
// {200, 204, 301, 302, 303, 307, 308, 5xx}.
type UnexpectedStatusError struct {
	URL    string
	Status int
}

func (e *UnexpectedStatusError) Error() string {
	return "unexpected status from " + e.URL
}

// ParseError describes an HTML document that could not be decoded or parsed;
// ExtractMetadata returns it. The Resolver logs it and caches the record
// without any extracted fields, so it never reaches a Resolve caller. A
// malformed JSON-LD block does not produce one: the block is skipped.
type ParseError struct {
	What string
	Err  error
}

func (e *ParseError) Error() string { return e.What + ": " + e.Err.Error() }
func (e *ParseError) Unwrap() error { return e.Err }

// ErrNotFound is returned by MetadataStore operations that require an
// existing key (Touch) when the key is absent.
var ErrNotFound = errors.New("physicalweb: key not found")
