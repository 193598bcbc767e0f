// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package gate

import (
	"net/http"
	"strings"
)

// RequestView is the part of an inbound request a Strategy may look at.
type RequestView interface {
	Header(name string) (string, bool)
	Cookie(name string) (string, bool)
}

// HTTPRequest adapts *http.Request to RequestView.
type HTTPRequest struct {
	r *http.Request
}

// FromHTTP wraps r.
func FromHTTP(r *http.Request) HTTPRequest {
	return HTTPRequest{r: r}
}

// Header returns the first value of the named header.
func (h HTTPRequest) Header(name string) (string, bool) {
	values := h.r.Header.Values(name)
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// Cookie returns the value of the named cookie.
func (h HTTPRequest) Cookie(name string) (string, bool) {
	c, err := h.r.Cookie(name)
	if err != nil {
		return "", false
	}
	return c.Value, true
}

// StaticRequest is a RequestView over plain maps. Header names match
// case-insensitively; cookie names are exact.
type StaticRequest struct {
	Headers map[string]string
	Cookies map[string]string
}

// Header implements RequestView.
func (s StaticRequest) Header(name string) (string, bool) {
	for k, v := range s.Headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// Cookie implements RequestView.
func (s StaticRequest) Cookie(name string) (string, bool) {
	v, ok := s.Cookies[name]
	return v, ok
}

var (
	_ RequestView = HTTPRequest{}
	_ RequestView = StaticRequest{}
)
