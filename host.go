package httpet

import (
	"net"
	"strings"

	registry "github.com/always-cache/httpet/pkg/animal-registry"

	"github.com/pkg/errors"
)

// NormalizeBaseDomain trims, lower-cases and validates a base domain.
// Each dot-separated label must be a valid animal identifier.
func NormalizeBaseDomain(domain string) (string, error) {
	normalized := strings.ToLower(strings.TrimRight(strings.TrimSpace(domain), "./"))
	if normalized == "" {
		return "", errors.Wrap(ErrConfig, "base domain is empty")
	}
	for _, label := range strings.Split(normalized, ".") {
		if id, ok := registry.ParseIdentifier(label); !ok || id != label {
			return "", errors.Wrapf(ErrConfig, "base domain %q has invalid label %q", domain, label)
		}
	}
	return normalized, nil
}

// normalizeHost strips the port, surrounding space and a trailing dot, and lower-cases.
func normalizeHost(host string) string {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(strings.TrimSuffix(host, "."))
}

// animalFromHost returns the animal identifier named by the host,
// or an empty string if the host names none.
// The apex and www host mean "no animal", as does any host outside the base domain.
func animalFromHost(baseDomain, host string) string {
	host = normalizeHost(host)
	if host == baseDomain || host == "www."+baseDomain {
		return ""
	}
	label := strings.TrimSuffix(host, "."+baseDomain)
	if label == host {
		return ""
	}
	id, ok := registry.ParseIdentifier(label)
	if !ok {
		return ""
	}
	return id
}

// statusSegment returns the first path segment after the leading slash.
func statusSegment(path string) string {
	segment := strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(segment, '/'); i >= 0 {
		segment = segment[:i]
	}
	return segment
}
