// © 2025 Max Karev. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package bluesky implements post delivery over the Bluesky XRPC API.
package bluesky

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mkrv/paperbot/internal/request"
	"github.com/mkrv/paperbot/internal/version"
)

const (
	// DefaultPDS is the personal data server used unless configured otherwise.
	DefaultPDS = "https://bsky.social"

	publishRetryLimit = 5 // N attempts to retry a rate-limited publish
	rateLimitWait     = time.Minute
)

// Config configures a Bluesky client.
type Config struct {
	Handle     string
	Password   string // app password, not the account password
	PDS        string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client publishes posts to a single Bluesky account.
type Client struct {
	handle   string
	password string
	pds      string
	httpc    *http.Client
	scrubber *strings.Replacer
	slog     *slog.Logger
	sleep    func(context.Context, time.Duration) bool
	now      func() time.Time

	session *session
}

// New returns a client configured for a specific account. The session is
// established lazily on the first publish.
func New(cfg Config) *Client {
	c := &Client{
		handle:   cfg.Handle,
		password: cfg.Password,
		pds:      cfg.PDS,
		httpc:    cfg.HTTPClient,
		slog:     cfg.Logger,
	}
	if c.pds == "" {
		c.pds = DefaultPDS
	}
	if c.httpc == nil {
		c.httpc = request.DefaultClient
	}
	if c.slog == nil {
		c.slog = slog.Default()
	}
	if c.password != "" {
		c.scrubber = strings.NewReplacer(c.password, "[EXPUNGED]")
	}
	c.sleep = sleep
	c.now = time.Now
	return c
}

// Link is a byte offset range within a post's text annotated with a
// destination URI, rendered by Bluesky as a clickable link.
type Link struct {
	Start int
	End   int
	URI   string
}

// Image is an optional image attachment.
type Image struct {
	Data []byte
	Alt  string
}

// Post is a single outgoing post.
type Post struct {
	Text  string
	Links []Link
	Image *Image
}

type session struct {
	AccessJWT string `json:"accessJwt"`
	DID       string `json:"did"`
}

// Wire format of app.bsky.richtext.facet.
type facet struct {
	Index    byteSlice `json:"index"`
	Features []feature `json:"features"`
}

type byteSlice struct {
	ByteStart int `json:"byteStart"`
	ByteEnd   int `json:"byteEnd"`
}

type feature struct {
	Type string `json:"$type"`
	// NOTE: URI ("I"), not URL ("L").
	URI string `json:"uri"`
}

type imagesEmbed struct {
	Type   string       `json:"$type"`
	Images []embedImage `json:"images"`
}

type embedImage struct {
	Alt   string          `json:"alt"`
	Image json.RawMessage `json:"image"` // blob ref returned by uploadBlob
}

type postRecord struct {
	Type      string       `json:"$type"`
	Text      string       `json:"text"`
	CreatedAt string       `json:"createdAt"`
	Facets    []facet      `json:"facets,omitempty"`
	Embed     *imagesEmbed `json:"embed,omitempty"`
}

// Publish submits a post, retrying when rate limited. The session is created
// on first use and reused for the rest of the run.
func (c *Client) Publish(ctx context.Context, post Post) error {
	if c.session == nil {
		if err := c.login(ctx); err != nil {
			return fmt.Errorf("creating session for %q: %w", c.handle, err)
		}
	}

	rec := postRecord{
		Type:      "app.bsky.feed.post",
		Text:      post.Text,
		CreatedAt: c.now().UTC().Format(time.RFC3339),
	}
	for _, l := range post.Links {
		rec.Facets = append(rec.Facets, facet{
			Index: byteSlice{ByteStart: l.Start, ByteEnd: l.End},
			Features: []feature{{
				Type: "app.bsky.richtext.facet#link",
				URI:  l.URI,
			}},
		})
	}
	if post.Image != nil {
		blob, err := c.uploadBlob(ctx, post.Image.Data)
		if err != nil {
			return fmt.Errorf("uploading image: %w", err)
		}
		rec.Embed = &imagesEmbed{
			Type:   "app.bsky.embed.images",
			Images: []embedImage{{Alt: post.Image.Alt, Image: blob}},
		}
	}

	var err error
	for range publishRetryLimit {
		err = c.createRecord(ctx, rec)
		if err == nil {
			break
		}
		if !isRateLimited(err) {
			break
		}
		c.slog.Warn("publishing rate limited, waiting", "handle", c.handle, "wait", rateLimitWait)
		if !c.sleep(ctx, rateLimitWait) {
			return ctx.Err()
		}
	}
	return err
}

func (c *Client) login(ctx context.Context) error {
	s, err := request.Make[session](ctx, request.Params{
		Method: http.MethodPost,
		URL:    c.pds + "/xrpc/com.atproto.server.createSession",
		Body: map[string]string{
			"identifier": c.handle,
			"password":   c.password,
		},
		Headers: map[string]string{
			"User-Agent": version.UserAgent(),
		},
		HTTPClient: c.httpc,
		Scrubber:   c.scrubber,
	})
	if err != nil {
		return err
	}
	c.session = &s
	return nil
}

func (c *Client) createRecord(ctx context.Context, rec postRecord) error {
	_, err := request.Make[request.IgnoreResponse](ctx, request.Params{
		Method: http.MethodPost,
		URL:    c.pds + "/xrpc/com.atproto.repo.createRecord",
		Body: map[string]any{
			"repo":       c.session.DID,
			"collection": "app.bsky.feed.post",
			"record":     rec,
		},
		Headers: map[string]string{
			"Authorization": "Bearer " + c.session.AccessJWT,
			"User-Agent":    version.UserAgent(),
		},
		HTTPClient: c.httpc,
		Scrubber:   c.scrubber,
	})
	return err
}

func (c *Client) uploadBlob(ctx context.Context, data []byte) (json.RawMessage, error) {
	res, err := request.Make[struct {
		Blob json.RawMessage `json:"blob"`
	}](ctx, request.Params{
		Method: http.MethodPost,
		URL:    c.pds + "/xrpc/com.atproto.repo.uploadBlob",
		Body:   data,
		Headers: map[string]string{
			"Authorization": "Bearer " + c.session.AccessJWT,
			"Content-Type":  "image/png",
			"User-Agent":    version.UserAgent(),
		},
		HTTPClient: c.httpc,
		Scrubber:   c.scrubber,
	})
	if err != nil {
		return nil, err
	}
	return res.Blob, nil
}

func isRateLimited(err error) bool {
	var statusErr *request.StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusTooManyRequests
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
