// © 2025 Max Karev. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package renderer_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mkrv/paperbot/internal/archive"
	"github.com/mkrv/paperbot/internal/renderer"
	"github.com/mkrv/paperbot/internal/testutil"
)

func TestRender(t *testing.T) {
	t.Parallel()

	img := []byte("\x89PNG fake image")

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if body["title"] != "Deep Widgets" || body["authors"] != "Smith and Jones" || body["abstract"] != "We study widgets." {
			http.Error(w, "unexpected paper fields", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(img)
	}))
	defer ts.Close()

	c := &renderer.Client{URL: ts.URL, HTTPClient: ts.Client()}
	got, err := c.Render(context.Background(), archive.Item{
		ID:       "https://arxiv.org/abs/2501.01234",
		Title:    "Deep Widgets",
		Authors:  "Smith and Jones",
		Abstract: "We study widgets.",
	})
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, got, img)
}

func TestRenderError(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "renderer exploded", http.StatusInternalServerError)
	}))
	defer ts.Close()

	c := &renderer.Client{URL: ts.URL, HTTPClient: ts.Client()}
	if _, err := c.Render(context.Background(), archive.Item{Title: "Deep Widgets"}); err == nil {
		t.Fatal("expected an error")
	}
}
