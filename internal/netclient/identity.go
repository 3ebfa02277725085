package netclient

import (
	"errors"
	"net/http"
	"strings"
)

// DefaultIdentities is the user-agent pool rotated through on throttling
var DefaultIdentities = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/128.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.3 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:124.0) Gecko/20100101 Firefox/124.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/128.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0.0.0 Safari/537.36 Edg/129.0.0.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0.0.0 Safari/537.36",
}

// HeaderSupplier provides the credential headers sent with every request.
// The client sets User-Agent itself.
type HeaderSupplier interface {
	Headers() (http.Header, error)
}

var errBadHeaderValue = errors.New("header value contains a line break")

// StaticHeaders supplies authorization and cookie values from configuration
type StaticHeaders struct {
	Authorization string
	Cookie        string
}

func (s StaticHeaders) Headers() (http.Header, error) {
	h := http.Header{}

	if s.Authorization != "" {
		if strings.ContainsAny(s.Authorization, "\r\n") {
			return nil, errBadHeaderValue
		}
		token := s.Authorization
		if !strings.HasPrefix(strings.ToLower(token), "bearer ") {
			token = "Bearer " + token
		}
		h.Set("Authorization", token)
	}

	if s.Cookie != "" {
		if strings.ContainsAny(s.Cookie, "\r\n") {
			return nil, errBadHeaderValue
		}
		h.Set("Cookie", s.Cookie)
	}

	return h, nil
}
