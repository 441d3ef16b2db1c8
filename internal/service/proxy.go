// Package service implements the core proxy forwarding logic.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"fusionbrain-proxy-go/internal/client"
	"fusionbrain-proxy-go/internal/config"
	"fusionbrain-proxy-go/internal/model"
)

// hopByHopHeaders are meaningful only for a single connection and are never
// forwarded in either direction.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// droppedRequestHeaders are stripped before forwarding. Host and
// Content-Length are set by the transport; Accept-Encoding is left to the
// transport so it can negotiate gzip and hand us a decoded body to rewrite.
var droppedRequestHeaders = []string{
	"Host",
	"Content-Length",
	"Accept-Encoding",
}

// droppedResponseHeaders are stripped from upstream replies; the body may be
// rewritten so the length is recomputed on the way out.
var droppedResponseHeaders = []string{
	"Content-Length",
}

// BodyRewriter turns an upstream body into the body sent to the client.
type BodyRewriter interface {
	Rewrite(ctx context.Context, body []byte, contentType string) []byte
}

// ProxyService handles the forwarding logic for proxy requests.
type ProxyService struct {
	client   *client.UpstreamClient
	rewriter BodyRewriter
	logger   *slog.Logger
	baseURL  *url.URL
}

// NewProxyService creates a ProxyService.
func NewProxyService(c *client.UpstreamClient, rw BodyRewriter, cfg *config.Config, logger *slog.Logger) (*ProxyService, error) {
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}

	return &ProxyService{
		client:   c,
		rewriter: rw,
		logger:   logger.With("component", "proxy_service"),
		baseURL:  u,
	}, nil
}

// Forward sends a ProxyRequest upstream unchanged and returns the reply with
// its body passed through the rewriter.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	upstreamURL := s.buildUpstreamURL(pr.Path, pr.RawQuery)
	header := filterRequestHeaders(pr.Header)

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"path", pr.Path,
	)

	resp, err := s.client.Send(pr.Ctx, pr.Method, upstreamURL, header, pr.Body, pr.ContentLength)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	body := s.rewriter.Rewrite(pr.Ctx, resp.Body, resp.ContentType)
	return resp.WithBody(body, filterResponseHeaders(resp.Header)), nil
}

// buildUpstreamURL joins the inbound path onto the upstream base and keeps the
// query string exactly as received.
func (s *ProxyService) buildUpstreamURL(path, rawQuery string) string {
	u := *s.baseURL
	u.Path = strings.TrimSuffix(s.baseURL.Path, "/") + "/" + strings.TrimPrefix(path, "/")
	u.RawPath = ""
	u.RawQuery = rawQuery
	return u.String()
}

func filterRequestHeaders(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	removeConnectionHeaders(dst)
	for _, h := range hopByHopHeaders {
		dst.Del(h)
	}
	for _, h := range droppedRequestHeaders {
		dst.Del(h)
	}
	return dst
}

func filterResponseHeaders(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	removeConnectionHeaders(dst)
	for _, h := range hopByHopHeaders {
		dst.Del(h)
	}
	for _, h := range droppedResponseHeaders {
		dst.Del(h)
	}
	return dst
}

// removeConnectionHeaders drops headers named in the Connection header
// (RFC 9110 §7.6.1).
func removeConnectionHeaders(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
}
