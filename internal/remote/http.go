package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bolasblack/settingsync/internal/snapshot"
)

// Routes served by the settings server.
const (
	SnapshotPath = "/v1/snapshot"
	EventsPath   = "/v1/events"
)

// Event is a change notification sent over the events websocket.
type Event struct {
	Type    string `json:"type"`
	Version string `json:"version"`
}

// EventVersion is the Event type announcing a new remote version.
const EventVersion = "version"

// PushResponse is the body returned by a successful PUT.
type PushResponse struct {
	Version   string `json:"version"`
	Unchanged bool   `json:"unchanged"`
}

// HTTPRemote is a client for the settings server.
type HTTPRemote struct {
	base     *url.URL
	client   *http.Client
	dialer   *websocket.Dialer
	identity Identity
}

// NewHTTPRemote creates a client for the server at baseURL.
func NewHTTPRemote(baseURL string, identity Identity) (*HTTPRemote, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid remote url %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid remote url %q: scheme must be http or https", baseURL)
	}
	return &HTTPRemote{
		base:     u,
		client:   &http.Client{Timeout: 30 * time.Second},
		dialer:   websocket.DefaultDialer,
		identity: identity,
	}, nil
}

// ETag quotes a version for use in HTTP headers.
func ETag(version string) string {
	return `"` + version + `"`
}

// ParseETag strips quotes and weak markers from an ETag header value.
func ParseETag(v string) string {
	v = strings.TrimPrefix(strings.TrimSpace(v), "W/")
	return strings.Trim(v, `"`)
}

func (r *HTTPRemote) endpoint(path string) string {
	return r.base.String() + path
}

func (r *HTTPRemote) Pull(ctx context.Context, knownVersion string) (PullResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint(SnapshotPath), nil)
	if err != nil {
		return PullResult{}, remoteErr("pull", err)
	}
	if knownVersion != "" {
		req.Header.Set("If-None-Match", ETag(knownVersion))
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return PullResult{}, remoteErr("pull", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		return PullResult{Version: knownVersion, NoChange: true}, nil
	case http.StatusNotFound:
		return PullResult{NoChange: knownVersion == ""}, nil
	case http.StatusOK:
	default:
		return PullResult{}, remoteErr("pull", statusError(resp))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return PullResult{}, remoteErr("pull", err)
	}
	doc, err := Decode(data)
	if err != nil {
		return PullResult{}, remoteErr("pull", err)
	}
	snap, err := doc.Snapshot()
	if err != nil {
		return PullResult{}, remoteErr("pull", err)
	}
	version := ParseETag(resp.Header.Get("ETag"))
	if version == "" {
		version = VersionOf(data)
	}
	return PullResult{Snapshot: snap, Version: version}, nil
}

func (r *HTTPRemote) Push(ctx context.Context, snap *snapshot.Snapshot, opts PushOptions) (PushResult, error) {
	doc := NewDocument(snap, r.identity.InstallationID, r.identity.now().Now())
	body, err := Encode(doc)
	if err != nil {
		return PushResult{}, remoteErr("push", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, r.endpoint(SnapshotPath), bytes.NewReader(body))
	if err != nil {
		return PushResult{}, remoteErr("push", err)
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case opts.Force:
	case opts.ExpectedVersion == "":
		req.Header.Set("If-None-Match", "*")
	default:
		req.Header.Set("If-Match", ETag(opts.ExpectedVersion))
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return PushResult{}, remoteErr("push", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusPreconditionFailed:
		return PushResult{}, remoteErr("push", ErrRejected)
	default:
		return PushResult{}, remoteErr("push", statusError(resp))
	}

	var pr PushResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return PushResult{}, remoteErr("push", fmt.Errorf("invalid response: %w", err))
	}
	return PushResult{Version: pr.Version, Unchanged: pr.Unchanged}, nil
}

// Subscribe opens the events websocket and forwards announced versions.
func (r *HTTPRemote) Subscribe(ctx context.Context) (<-chan string, error) {
	u := *r.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path += EventsPath

	conn, _, err := r.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, remoteErr("subscribe", err)
	}

	out := make(chan string, 1)
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go func() {
		defer close(out)
		for {
			var ev Event
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			if ev.Type != EventVersion || ev.Version == "" {
				continue
			}
			select {
			case out <- ev.Version:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func statusError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(msg)))
}
