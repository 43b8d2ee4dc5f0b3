package physicalweb

import (
	"crypto/sha1"
	"encoding/hex"
	"net/url"
)

// computeGroupID implements the optional §4.8 enrichment: the first 16 hex
// characters of SHA-1(netloc ++ "\x00" ++ identifier), where identifier is
// the title if present, else the description, else the URL path. Errors are
// reported so the caller can log and omit the field, never failing the scan.
func computeGroupID(finalURL, title, description string) (string, error) {
	u, err := url.Parse(finalURL)
	if err != nil {
		return "", err
	}
	identifier := title
	if identifier == "" {
		identifier = description
	}
	if identifier == "" {
		identifier = u.Path
	}
	sum := sha1.Sum([]byte(u.Host + "\x00" + identifier))
	return hex.EncodeToString(sum[:])[:16], nil
}
