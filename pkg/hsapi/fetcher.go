package hsapi

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"
)

// FetchRequest describes one outbound HTTP request. TargetURL is always the
// full URL the request logically addresses; whether the wire request line
// uses the absolute URL or just path+query is an implementation detail of
// the Fetcher, driven by whether an HTTP proxy is configured (spec.md §9
// design notes).
type FetchRequest struct {
	Method     string
	TargetURL  *url.URL
	Headers    map[string]string
	Body       []byte
	BinaryTail []byte // appended after Body; Content-Length covers both (spec.md §4.1)
	MaxBytes   int64  // response body cap; 0 means use a sane default
}

// FetchCallbacks are the three outcomes of a fetch, per spec.md §4.1.
type FetchCallbacks struct {
	OnSuccess     func(root gjson.Result, rawBody []byte, contentType string)
	OnTransportErr func(err *TransportError)
	OnBadResponse func(err *BadResponseError, rawBody []byte)
}

// Fetcher is the external HTTP transport collaborator (spec.md §2's "HTTP
// fetcher (external)"): an async request that reports one of success,
// transport-error, or bad-response. Fetch returns a cancel function;
// invoking it before a callback has fired reports OnTransportErr with
// ErrCancelled.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest, cb FetchCallbacks) (cancel func())
}

const defaultMaxResponseBytes = 50 * 1024 * 1024 // tens of MB, per spec.md §4.1 sync cap

// HTTPFetcher is the reference Fetcher implementation, used by setup.New
// when no Fetcher is supplied (and so by the cmd/matrix-sync-core demo
// harness); the tests use stub Fetchers instead. Production
// embedders may supply their own Fetcher (e.g. one backed by a platform
// networking stack) since spec.md treats the fetcher as an external
// collaborator.
type HTTPFetcher struct {
	Client *http.Client
	// ProxyURL, when set, is an HTTP (not SOCKS) proxy that every request is
	// routed through: http:// targets are sent to it with an absolute-URI
	// request target, https:// targets are tunnelled with CONNECT, and
	// ProxyAuth goes to the proxy as Proxy-Authorization (spec.md §9). A nil
	// ProxyURL means direct connection: the wire request target is
	// path+query only.
	ProxyURL *url.URL
	ProxyAuth string // "Basic ..." or similar, sent as Proxy-Authorization
}

func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{Client: &http.Client{Timeout: 0}} // per-request timeout via context
}

func (f *HTTPFetcher) Fetch(ctx context.Context, req FetchRequest, cb FetchCallbacks) func() {
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		body := req.Body
		if len(req.BinaryTail) > 0 {
			combined := make([]byte, 0, len(req.Body)+len(req.BinaryTail))
			combined = append(combined, req.Body...)
			combined = append(combined, req.BinaryTail...)
			body = combined
		}

		httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.TargetURL.String(), newBodyReader(body))
		if err != nil {
			cb.OnTransportErr(NewInvalidResponseError())
			return
		}
		httpReq.Host = req.TargetURL.Host
		for k, v := range req.Headers {
			httpReq.Header.Set(k, v)
		}
		if len(body) > 0 {
			httpReq.ContentLength = int64(len(body))
		}
		client := f.Client
		if f.ProxyURL != nil {
			// net/http writes an absolute-URI target for http:// requests sent
			// to a proxy and tunnels https:// requests with CONNECT.
			connectHeader := http.Header{}
			if f.ProxyAuth != "" {
				connectHeader.Set("Proxy-Authorization", f.ProxyAuth)
				if req.TargetURL.Scheme == "http" {
					httpReq.Header.Set("Proxy-Authorization", f.ProxyAuth)
				}
			}
			client = &http.Client{Timeout: f.Client.Timeout, Transport: &http.Transport{
				Proxy:              http.ProxyURL(f.ProxyURL),
				ProxyConnectHeader: connectHeader,
				DisableKeepAlives:  true,
			}}
		} else {
			// Direct connection: request line carries path+query only. Go's
			// net/http always writes RequestURI from req.URL.RequestURI()
			// for non-proxy requests, which already omits scheme/host.
		}

		resp, err := client.Do(httpReq)
		if err != nil {
			if ctx.Err() == context.Canceled {
				cb.OnTransportErr(&TransportError{Reason: ErrCancelled})
				return
			}
			cb.OnTransportErr(&TransportError{Reason: err.Error()})
			return
		}
		defer resp.Body.Close()

		maxBytes := req.MaxBytes
		if maxBytes == 0 {
			maxBytes = defaultMaxResponseBytes
		}
		limited := io.LimitReader(resp.Body, maxBytes+1)
		raw, err := io.ReadAll(limited)
		if err != nil {
			if ctx.Err() == context.Canceled {
				cb.OnTransportErr(&TransportError{Reason: ErrCancelled})
				return
			}
			cb.OnTransportErr(NewInvalidResponseError())
			return
		}
		if int64(len(raw)) > maxBytes {
			cb.OnTransportErr(NewInvalidResponseError())
			return
		}

		// Replay the response's header lines through the
		// incremental field/value parser described in spec.md §4.1, so that
		// a malformed header block (however it was actually delivered by the
		// underlying transport) is detected the same way regardless of
		// whether net/http or a streaming Fetcher produced it.
		parser := newIncrementalHeaderParser()
		for k, vs := range resp.Header {
			for _, v := range vs {
				parser.FeedLine(k + ": " + v)
			}
		}
		parser.FeedLine("")
		if parser.Err() != nil || !parser.Done() {
			cb.OnTransportErr(NewInvalidResponseError())
			return
		}

		contentType := resp.Header.Get("Content-Type")

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			cb.OnBadResponse(parseBadResponse(resp.StatusCode, raw), raw)
			return
		}

		var root gjson.Result
		if isJSONContentType(contentType) {
			if !gjson.ValidBytes(raw) {
				cb.OnTransportErr(NewInvalidResponseError())
				return
			}
			root = gjson.ParseBytes(raw)
		}
		cb.OnSuccess(root, raw, contentType)
	}()

	return cancel
}

func isJSONContentType(ct string) bool {
	return ct == "application/json" || hasPrefixIgnoreParams(ct, "application/json")
}

func hasPrefixIgnoreParams(ct, prefix string) bool {
	for i := 0; i < len(prefix); i++ {
		if i >= len(ct) || ct[i] != prefix[i] {
			return false
		}
	}
	return true
}

func newBodyReader(body []byte) io.Reader {
	if len(body) == 0 {
		return nil
	}
	return bytes.NewReader(body)
}
