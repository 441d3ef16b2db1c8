// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
)

// ProxyRequest represents a client request to be forwarded upstream.
type ProxyRequest struct {
	Ctx           context.Context
	Method        string
	Path          string
	RawQuery      string
	Header        http.Header
	Body          io.Reader
	ContentLength int64
}

// ProxyResponse is a snapshot of an upstream reply. It is never mutated once
// built; rewriting produces a new value via WithBody.
type ProxyResponse struct {
	StatusCode  int
	Header      http.Header
	Body        []byte
	ContentType string
}

// WithBody returns a copy of the response carrying body and header instead of
// the originals.
func (r *ProxyResponse) WithBody(body []byte, header http.Header) *ProxyResponse {
	return &ProxyResponse{
		StatusCode:  r.StatusCode,
		Header:      header,
		Body:        body,
		ContentType: r.ContentType,
	}
}
