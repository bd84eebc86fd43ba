package zot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	zerrors "github.com/sprezz-net/sprezz/pkg/errors"
)

const (
	// maxResponseSize caps the bytes read from any remote response.
	maxResponseSize = 4 << 20
	maxRedirects    = 10
)

// KeepMethodOnRedirect is an http.Client CheckRedirect func that re-sends
// the previous method and body on 301, 302, 307 and 308. Only 303 turns
// the request into a GET.
func KeepMethodOnRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if req.Response == nil || req.Response.StatusCode == http.StatusSeeOther {
		return nil
	}
	prev := via[len(via)-1]
	if req.Method == prev.Method {
		return nil
	}
	req.Method = prev.Method
	if prev.GetBody != nil {
		body, err := prev.GetBody()
		if err != nil {
			return fmt.Errorf("rewind body for redirect: %w", err)
		}
		req.Body = body
		req.GetBody = prev.GetBody
		req.ContentLength = prev.ContentLength
	}
	if ct := prev.Header.Get("Content-Type"); ct != "" {
		req.Header.Set("Content-Type", ct)
	}
	return nil
}

// infoQuery is a zot-info request that can be sent over either scheme.
type infoQuery struct {
	method string
	scheme string
	host   string
	query  url.Values
	body   []byte
}

func (q *infoQuery) url(scheme string) string {
	u := url.URL{
		Scheme:   scheme,
		Host:     q.host,
		Path:     WellKnownInfoPath,
		RawQuery: q.query.Encode(),
	}
	return u.String()
}

// sendInfo performs q and falls back once to plain HTTP when an https
// attempt fails at the transport or HTTP level. A {success:false} reply
// is never retried.
func (z *Zot) sendInfo(ctx context.Context, q *infoQuery) (*InfoResponse, error) {
	info, err := z.doInfo(ctx, q.scheme, q)
	if err != nil && q.scheme == "https" && ctx.Err() == nil && !zerrors.Is(err, zerrors.ErrInvalidResponse) {
		z.logger.Warn("Discovery over https failed, falling back to http",
			zap.String("host", q.host),
			zap.Error(err))
		z.metrics.FingerFallbacks.Inc()
		info, err = z.doInfo(ctx, "http", q)
	}
	if err != nil {
		return nil, err
	}
	if !info.Success {
		msg := info.Message
		if msg == "" {
			msg = "No results"
		}
		return nil, &zerrors.RemoteError{Message: msg}
	}
	return info, nil
}

func (z *Zot) doInfo(ctx context.Context, scheme string, q *infoQuery) (*InfoResponse, error) {
	target := q.url(scheme)
	var body io.Reader
	if q.body != nil {
		body = bytes.NewReader(q.body)
	}
	req, err := http.NewRequestWithContext(ctx, q.method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build zot-info request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if q.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	z.logger.Debug("Sending zot-info request",
		zap.String("method", q.method),
		zap.String("url", target))

	resp, err := z.client.Do(req)
	if err != nil {
		z.metrics.FingerRequests.WithLabelValues(scheme, "error").Inc()
		return nil, fmt.Errorf("zot-info request to %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		z.metrics.FingerRequests.WithLabelValues(scheme, "http_error").Inc()
		return nil, &zerrors.HTTPError{StatusCode: resp.StatusCode, URL: target}
	}

	var info InfoResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&info); err != nil {
		z.metrics.FingerRequests.WithLabelValues(scheme, "invalid").Inc()
		return nil, zerrors.Wrap(zerrors.ErrInvalidResponse, err)
	}
	z.metrics.FingerRequests.WithLabelValues(scheme, "ok").Inc()
	return &info, nil
}

// postData posts payload as the form field data to a hub callback and
// returns the response body.
func (z *Zot) postData(ctx context.Context, callback string, payload []byte) ([]byte, error) {
	form := url.Values{"data": {string(payload)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callback, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := z.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post to %s: %w", callback, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &zerrors.HTTPError{StatusCode: resp.StatusCode, URL: callback}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", callback, err)
	}
	return data, nil
}
