// Package hsapi is the typed API client of spec.md §4.1: async wrappers
// around the client-server endpoints this core depends on, each taking
// connection info, operation arguments, and success/transport-error/
// bad-response callbacks.
package hsapi

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/Masterminds/semver/v3"
	"github.com/tidwall/gjson"
)

// ConnectionInfo is the subset of Connection state the API client needs: base
// URL and access token. Kept as its own type (rather than depending on
// pkg/matrixclient.Connection) so hsapi has no dependency on the higher-level
// packages that depend on it.
type ConnectionInfo struct {
	HomeServerURL string // always trailing-slash normalized
	AccessToken   string
}

// Client is the homeserver API client. It holds no per-account state beyond
// the Fetcher and a best-effort record of server capability; every
// operation takes a ConnectionInfo explicitly, per spec.md §4.1.
type Client struct {
	Fetcher Fetcher
	// ServerVersion holds a server version for callers that track one. No
	// method of Client fetches GET _matrix/client/versions or sets this
	// field, so it stays nil unless the caller sets it; no request path in
	// this client reads it.
	ServerVersion *semver.Version
}

func New(f Fetcher) *Client {
	return &Client{Fetcher: f}
}

func (c *Client) buildURL(ci ConnectionInfo, path string, query url.Values) (*url.URL, error) {
	u, err := url.Parse(ci.HomeServerURL)
	if err != nil {
		return nil, err
	}
	ref, err := url.Parse(path)
	if err != nil {
		return nil, err
	}
	u = u.ResolveReference(ref)
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u, nil
}

func authQuery(accessToken string, extra url.Values) url.Values {
	if extra == nil {
		extra = url.Values{}
	}
	if accessToken != "" {
		extra.Set("access_token", accessToken)
	}
	return extra
}

// --- login ---

type PasswordLoginResult struct {
	AccessToken string
	UserID      string
	DeviceID    string
}

// PasswordLogin implements spec.md §4.1/§6 password_login.
func (c *Client) PasswordLogin(ctx context.Context, ci ConnectionInfo, user, password, deviceID string, onSuccess func(PasswordLoginResult), onTransportErr func(*TransportError), onBadResponse func(*BadResponseError, []byte)) func() {
	body := map[string]interface{}{
		"type":                         "m.login.password",
		"user":                         user,
		"password":                     password,
		"initial_device_display_name":  "matrix-sync-core",
	}
	if deviceID != "" {
		body["device_id"] = deviceID
	}
	raw, err := marshalJSON(body)
	if err != nil {
		onTransportErr(NewInvalidResponseError())
		return func() {}
	}
	target, err := c.buildURL(ci, "_matrix/client/api/v1/login", nil)
	if err != nil {
		onTransportErr(NewInvalidResponseError())
		return func() {}
	}
	return c.Fetcher.Fetch(ctx, FetchRequest{
		Method:    "POST",
		TargetURL: target,
		Headers:   map[string]string{"Content-Type": "application/json"},
		Body:      raw,
	}, FetchCallbacks{
		OnSuccess: func(root gjson.Result, rawBody []byte, contentType string) {
			token := root.Get("access_token")
			if !token.Exists() {
				onBadResponse(&BadResponseError{StatusCode: 200, HasJSON: true, ErrCode: "M_MISSING_TOKEN", ErrMessage: "login response missing access_token"}, rawBody)
				return
			}
			onSuccess(PasswordLoginResult{
				AccessToken: token.String(),
				UserID:      root.Get("user_id").String(),
				DeviceID:    root.Get("device_id").String(),
			})
		},
		OnTransportErr: onTransportErr,
		OnBadResponse:  onBadResponse,
	})
}

// --- whoami ---

// WhoAmI implements spec.md §4.1/§4.2 whoami, used on reconnect to validate a
// stored access token.
func (c *Client) WhoAmI(ctx context.Context, ci ConnectionInfo, onSuccess func(userID string), onTransportErr func(*TransportError), onBadResponse func(*BadResponseError, []byte)) func() {
	target, err := c.buildURL(ci, "_matrix/client/r0/account/whoami", authQuery(ci.AccessToken, nil))
	if err != nil {
		onTransportErr(NewInvalidResponseError())
		return func() {}
	}
	return c.Fetcher.Fetch(ctx, FetchRequest{Method: "GET", TargetURL: target}, FetchCallbacks{
		OnSuccess: func(root gjson.Result, rawBody []byte, contentType string) {
			uid := root.Get("user_id")
			if !uid.Exists() {
				onBadResponse(&BadResponseError{StatusCode: 200, HasJSON: true, ErrCode: "M_MISSING_USER_ID", ErrMessage: "whoami response missing user_id"}, rawBody)
				return
			}
			onSuccess(uid.String())
		},
		OnTransportErr: onTransportErr,
		OnBadResponse:  onBadResponse,
	})
}

// --- sync ---

// SyncResult is the parsed root of a /sync response, kept as a gjson.Result
// so downstream consumers (room model, E2E core) use the same null-safe
// accessor idiom rather than a rigid struct that would error on unfamiliar
// server extensions.
type SyncResult struct {
	Root      gjson.Result
	NextBatch string
}

func (c *Client) Sync(ctx context.Context, ci ConnectionInfo, since string, timeoutMs int, fullState bool, onSuccess func(SyncResult), onTransportErr func(*TransportError), onBadResponse func(*BadResponseError, []byte)) func() {
	q := url.Values{}
	q.Set("timeout", strconv.Itoa(timeoutMs))
	if since != "" {
		q.Set("since", since)
	}
	if fullState {
		q.Set("full_state", "true")
	}
	target, err := c.buildURL(ci, "_matrix/client/r0/sync", authQuery(ci.AccessToken, q))
	if err != nil {
		onTransportErr(NewInvalidResponseError())
		return func() {}
	}
	return c.Fetcher.Fetch(ctx, FetchRequest{
		Method:    "GET",
		TargetURL: target,
		MaxBytes:  defaultMaxResponseBytes,
	}, FetchCallbacks{
		OnSuccess: func(root gjson.Result, rawBody []byte, contentType string) {
			nb := root.Get("next_batch")
			if !nb.Exists() {
				onBadResponse(&BadResponseError{StatusCode: 200, HasJSON: true, ErrCode: "M_MISSING_NEXT_BATCH", ErrMessage: "sync response missing next_batch"}, rawBody)
				return
			}
			onSuccess(SyncResult{Root: root, NextBatch: nb.String()})
		},
		OnTransportErr: onTransportErr,
		OnBadResponse:  onBadResponse,
	})
}

// --- send ---

type SendResult struct {
	EventID string
}

// Send implements spec.md §4.1/§6 send: PUT, idempotent by txn_id.
func (c *Client) Send(ctx context.Context, ci ConnectionInfo, roomID, eventType, txnID string, content interface{}, onSuccess func(SendResult), onTransportErr func(*TransportError), onBadResponse func(*BadResponseError, []byte)) func() {
	raw, err := marshalJSON(content)
	if err != nil {
		onTransportErr(NewInvalidResponseError())
		return func() {}
	}
	path := fmt.Sprintf("_matrix/client/r0/rooms/%s/send/%s/%s", url.PathEscape(roomID), url.PathEscape(eventType), url.PathEscape(txnID))
	target, err := c.buildURL(ci, path, authQuery(ci.AccessToken, nil))
	if err != nil {
		onTransportErr(NewInvalidResponseError())
		return func() {}
	}
	return c.Fetcher.Fetch(ctx, FetchRequest{
		Method:    "PUT",
		TargetURL: target,
		Headers:   map[string]string{"Content-Type": "application/json"},
		Body:      raw,
	}, FetchCallbacks{
		OnSuccess: func(root gjson.Result, rawBody []byte, contentType string) {
			onSuccess(SendResult{EventID: root.Get("event_id").String()})
		},
		OnTransportErr: onTransportErr,
		OnBadResponse:  onBadResponse,
	})
}

// --- room membership ---

func (c *Client) JoinRoom(ctx context.Context, ci ConnectionInfo, roomOrAlias string, onSuccess func(roomID string), onTransportErr func(*TransportError), onBadResponse func(*BadResponseError, []byte)) func() {
	path := fmt.Sprintf("_matrix/client/r0/join/%s", url.PathEscape(roomOrAlias))
	target, err := c.buildURL(ci, path, authQuery(ci.AccessToken, nil))
	if err != nil {
		onTransportErr(NewInvalidResponseError())
		return func() {}
	}
	return c.Fetcher.Fetch(ctx, FetchRequest{Method: "POST", TargetURL: target, Body: []byte("{}"), Headers: map[string]string{"Content-Type": "application/json"}}, FetchCallbacks{
		OnSuccess: func(root gjson.Result, rawBody []byte, contentType string) {
			onSuccess(root.Get("room_id").String())
		},
		OnTransportErr: onTransportErr,
		OnBadResponse:  onBadResponse,
	})
}

func (c *Client) LeaveRoom(ctx context.Context, ci ConnectionInfo, roomID string, onSuccess func(), onTransportErr func(*TransportError), onBadResponse func(*BadResponseError, []byte)) func() {
	path := fmt.Sprintf("_matrix/client/r0/rooms/%s/leave", url.PathEscape(roomID))
	target, err := c.buildURL(ci, path, authQuery(ci.AccessToken, nil))
	if err != nil {
		onTransportErr(NewInvalidResponseError())
		return func() {}
	}
	return c.Fetcher.Fetch(ctx, FetchRequest{Method: "POST", TargetURL: target, Body: []byte("{}"), Headers: map[string]string{"Content-Type": "application/json"}}, FetchCallbacks{
		OnSuccess: func(root gjson.Result, rawBody []byte, contentType string) { onSuccess() },
		OnTransportErr: onTransportErr,
		OnBadResponse:  onBadResponse,
	})
}

func (c *Client) InviteUser(ctx context.Context, ci ConnectionInfo, roomID, userID string, onSuccess func(), onTransportErr func(*TransportError), onBadResponse func(*BadResponseError, []byte)) func() {
	raw, _ := marshalJSON(map[string]string{"user_id": userID})
	path := fmt.Sprintf("_matrix/client/r0/rooms/%s/invite", url.PathEscape(roomID))
	target, err := c.buildURL(ci, path, authQuery(ci.AccessToken, nil))
	if err != nil {
		onTransportErr(NewInvalidResponseError())
		return func() {}
	}
	return c.Fetcher.Fetch(ctx, FetchRequest{Method: "POST", TargetURL: target, Body: raw, Headers: map[string]string{"Content-Type": "application/json"}}, FetchCallbacks{
		OnSuccess: func(root gjson.Result, rawBody []byte, contentType string) { onSuccess() },
		OnTransportErr: onTransportErr,
		OnBadResponse:  onBadResponse,
	})
}

func (c *Client) Typing(ctx context.Context, ci ConnectionInfo, roomID, userID string, isTyping bool, timeoutMs int, onSuccess func(), onTransportErr func(*TransportError), onBadResponse func(*BadResponseError, []byte)) func() {
	body := map[string]interface{}{"typing": isTyping}
	if timeoutMs > 0 {
		body["timeout"] = timeoutMs
	}
	raw, _ := marshalJSON(body)
	path := fmt.Sprintf("_matrix/client/r0/rooms/%s/typing/%s", url.PathEscape(roomID), url.PathEscape(userID))
	target, err := c.buildURL(ci, path, authQuery(ci.AccessToken, nil))
	if err != nil {
		onTransportErr(NewInvalidResponseError())
		return func() {}
	}
	return c.Fetcher.Fetch(ctx, FetchRequest{Method: "PUT", TargetURL: target, Body: raw, Headers: map[string]string{"Content-Type": "application/json"}}, FetchCallbacks{
		OnSuccess: func(root gjson.Result, rawBody []byte, contentType string) { onSuccess() },
		OnTransportErr: onTransportErr,
		OnBadResponse:  onBadResponse,
	})
}

// --- media ---

type UploadResult struct {
	ContentURI string
}

func (c *Client) UploadFile(ctx context.Context, ci ConnectionInfo, contentType string, data []byte, onSuccess func(UploadResult), onTransportErr func(*TransportError), onBadResponse func(*BadResponseError, []byte)) func() {
	target, err := c.buildURL(ci, "_matrix/media/r0/upload", authQuery(ci.AccessToken, nil))
	if err != nil {
		onTransportErr(NewInvalidResponseError())
		return func() {}
	}
	return c.Fetcher.Fetch(ctx, FetchRequest{Method: "POST", TargetURL: target, Body: data, Headers: map[string]string{"Content-Type": contentType}}, FetchCallbacks{
		OnSuccess: func(root gjson.Result, rawBody []byte, ct string) {
			onSuccess(UploadResult{ContentURI: root.Get("content_uri").String()})
		},
		OnTransportErr: onTransportErr,
		OnBadResponse:  onBadResponse,
	})
}

// MXCToDownloadPath maps an mxc:// URI to the download path suffix, per
// spec.md §9: "<home_server>_matrix/media/r0/download/<suffix-after-mxc://>".
func MXCToDownloadPath(mxcURI string) (string, error) {
	const prefix = "mxc://"
	if len(mxcURI) < len(prefix) || mxcURI[:len(prefix)] != prefix {
		return "", fmt.Errorf("not an mxc URI: %q", mxcURI)
	}
	return "_matrix/media/r0/download/" + mxcURI[len(prefix):], nil
}

func (c *Client) DownloadFile(ctx context.Context, ci ConnectionInfo, mxcURI string, maxBytes int64, onSuccess func(contentType string, body []byte), onTransportErr func(*TransportError), onBadResponse func(*BadResponseError, []byte)) func() {
	path, err := MXCToDownloadPath(mxcURI)
	if err != nil {
		onTransportErr(NewInvalidResponseError())
		return func() {}
	}
	target, err := c.buildURL(ci, path, authQuery(ci.AccessToken, nil))
	if err != nil {
		onTransportErr(NewInvalidResponseError())
		return func() {}
	}
	return c.Fetcher.Fetch(ctx, FetchRequest{Method: "GET", TargetURL: target, MaxBytes: maxBytes}, FetchCallbacks{
		OnSuccess: func(root gjson.Result, rawBody []byte, ct string) { onSuccess(ct, rawBody) },
		OnTransportErr: onTransportErr,
		OnBadResponse:  onBadResponse,
	})
}

type ThumbnailMethod string

const (
	ThumbnailScale ThumbnailMethod = "scale"
	ThumbnailCrop  ThumbnailMethod = "crop"
)

func (c *Client) DownloadThumbnail(ctx context.Context, ci ConnectionInfo, mxcURI string, maxBytes int64, width, height int, method ThumbnailMethod, onSuccess func(contentType string, body []byte), onTransportErr func(*TransportError), onBadResponse func(*BadResponseError, []byte)) func() {
	const prefix = "mxc://"
	if len(mxcURI) < len(prefix) || mxcURI[:len(prefix)] != prefix {
		onTransportErr(NewInvalidResponseError())
		return func() {}
	}
	path := "_matrix/media/r0/thumbnail/" + mxcURI[len(prefix):]
	q := url.Values{}
	q.Set("width", strconv.Itoa(width))
	q.Set("height", strconv.Itoa(height))
	q.Set("method", string(method))
	target, err := c.buildURL(ci, path, authQuery(ci.AccessToken, q))
	if err != nil {
		onTransportErr(NewInvalidResponseError())
		return func() {}
	}
	return c.Fetcher.Fetch(ctx, FetchRequest{Method: "GET", TargetURL: target, MaxBytes: maxBytes}, FetchCallbacks{
		OnSuccess: func(root gjson.Result, rawBody []byte, ct string) { onSuccess(ct, rawBody) },
		OnTransportErr: onTransportErr,
		OnBadResponse:  onBadResponse,
	})
}

// --- keys ---

type UploadKeysResult struct {
	OneTimeKeyCounts map[string]int
}

func (c *Client) UploadKeys(ctx context.Context, ci ConnectionInfo, deviceKeys interface{}, oneTimeKeys map[string]interface{}, onSuccess func(UploadKeysResult), onTransportErr func(*TransportError), onBadResponse func(*BadResponseError, []byte)) func() {
	body := map[string]interface{}{}
	if deviceKeys != nil {
		body["device_keys"] = deviceKeys
	}
	if len(oneTimeKeys) > 0 {
		body["one_time_keys"] = oneTimeKeys
	}
	raw, err := marshalJSON(body)
	if err != nil {
		onTransportErr(NewInvalidResponseError())
		return func() {}
	}
	target, err := c.buildURL(ci, "_matrix/client/r0/keys/upload", authQuery(ci.AccessToken, nil))
	if err != nil {
		onTransportErr(NewInvalidResponseError())
		return func() {}
	}
	return c.Fetcher.Fetch(ctx, FetchRequest{Method: "POST", TargetURL: target, Body: raw, Headers: map[string]string{"Content-Type": "application/json"}}, FetchCallbacks{
		OnSuccess: func(root gjson.Result, rawBody []byte, ct string) {
			counts := map[string]int{}
			root.Get("one_time_key_counts").ForEach(func(k, v gjson.Result) bool {
				counts[k.String()] = int(v.Int())
				return true
			})
			onSuccess(UploadKeysResult{OneTimeKeyCounts: counts})
		},
		OnTransportErr: onTransportErr,
		OnBadResponse:  onBadResponse,
	})
}
