// © 2025 Max Karev. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package renderer defines the abstract-image rendering collaborator.
//
// Rendering is a black box behind a narrow interface: the bot hands over a
// paper and gets back opaque image bytes, or an error that the caller treats
// as item-level, never fatal to the run.
package renderer

import (
	"context"
	"net/http"

	"github.com/mkrv/paperbot/internal/archive"
	"github.com/mkrv/paperbot/internal/request"
)

// Renderer turns a paper into an image of its abstract.
type Renderer interface {
	Render(ctx context.Context, item archive.Item) ([]byte, error)
}

// Client is an HTTP [Renderer] talking to an external rendering service.
type Client struct {
	// URL is the rendering endpoint.
	URL string
	// HTTPClient is an optional custom HTTP client.
	HTTPClient *http.Client
}

// Render posts the paper's fields to the rendering endpoint and returns the
// image bytes it responds with.
func (c *Client) Render(ctx context.Context, item archive.Item) ([]byte, error) {
	b, err := request.Make[request.Bytes](ctx, request.Params{
		Method: http.MethodPost,
		URL:    c.URL,
		Body: map[string]string{
			"title":    item.Title,
			"authors":  item.Authors,
			"abstract": item.Abstract,
		},
		HTTPClient: c.HTTPClient,
	})
	if err != nil {
		return nil, err
	}
	return []byte(b), nil
}

var _ Renderer = (*Client)(nil)
