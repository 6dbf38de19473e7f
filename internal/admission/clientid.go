package admission

import (
	"net"
	"net/http"
	"strings"
)

// ClientID resolves the identity used for quota accounting. The first entry
// of trustedHeader wins when present; otherwise the peer address host is used.
func ClientID(r *http.Request, trustedHeader string) string {
	if trustedHeader != "" {
		if v := r.Header.Get(trustedHeader); v != "" {
			first, _, _ := strings.Cut(v, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
