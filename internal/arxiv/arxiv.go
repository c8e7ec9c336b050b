// © 2025 Max Karev. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package arxiv fetches arXiv RSS feeds and normalizes their entries.
package arxiv

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/mkrv/paperbot/internal/archive"
	"github.com/mkrv/paperbot/internal/request"
	"github.com/mkrv/paperbot/internal/version"

	"github.com/mmcdole/gofeed"
)

// DefaultBaseURL is where arXiv serves per-subject RSS feeds.
const DefaultBaseURL = "https://export.arxiv.org/rss/"

// Client fetches and normalizes arXiv feeds.
type Client struct {
	// BaseURL is the feed URL prefix the subject is appended to.
	// Defaults to [DefaultBaseURL].
	BaseURL string
	// HTTPClient is an optional custom HTTP client.
	HTTPClient *http.Client

	fp *gofeed.Parser
}

// Fetch retrieves the feed for an arXiv subject (e.g. "stat.ME") and returns
// its entries in feed order. Entries without a link are skipped; they have no
// usable identity.
func (c *Client) Fetch(ctx context.Context, subject string) ([]archive.Item, error) {
	base := c.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	httpc := c.HTTPClient
	if httpc == nil {
		httpc = request.DefaultClient
	}
	if c.fp == nil {
		c.fp = gofeed.NewParser()
	}

	url := base + subject
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", version.UserAgent())

	res, err := httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching feed for %q: %w", subject, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		const readLimit = 16384 // enough for error messages
		body, _ := io.ReadAll(io.LimitReader(res.Body, readLimit))
		return nil, fmt.Errorf("fetching feed for %q: want 200, got %d: %s", subject, res.StatusCode, body)
	}

	feed, err := c.fp.Parse(res.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing feed for %q: %w", subject, err)
	}

	items := make([]archive.Item, 0, len(feed.Items))
	for _, entry := range feed.Items {
		link := strings.TrimSpace(entry.Link)
		if link == "" {
			continue
		}
		items = append(items, archive.Item{
			ID:       link,
			Title:    NormalizeTitle(entry.Title),
			Authors:  FormatAuthors(creatorString(entry)),
			Abstract: NormalizeAbstract(entry.Description),
		})
	}
	return items, nil
}

// classificationRe matches the "(arXiv:2405.01234v1 [stat.ME])" boilerplate
// arXiv appends to titles.
var classificationRe = regexp.MustCompile(`\s*\(arXiv:[^)]*\)\s*$`)

// NormalizeTitle trims the title and strips the trailing arXiv classification
// suffix if present.
func NormalizeTitle(title string) string {
	return strings.TrimSpace(classificationRe.ReplaceAllString(title, ""))
}

var tagReplacer = strings.NewReplacer("<p>", "", "</p>", "")

// NormalizeAbstract extracts the abstract text from a feed entry description.
// arXiv prefixes descriptions with announce boilerplate ending in an
// "Abstract:" label; everything before the label is dropped. Descriptions
// without the label are used whole.
func NormalizeAbstract(description string) string {
	const label = "Abstract:"
	s := tagReplacer.Replace(description)
	if i := strings.Index(s, label); i != -1 {
		s = s[i+len(label):]
	}
	return strings.TrimSpace(s)
}

func creatorString(entry *gofeed.Item) string {
	if entry.DublinCoreExt != nil && len(entry.DublinCoreExt.Creator) > 0 {
		return strings.Join(entry.DublinCoreExt.Creator, ", ")
	}
	var names []string
	for _, a := range entry.Authors {
		if a != nil && a.Name != "" {
			names = append(names, a.Name)
		}
	}
	return strings.Join(names, ", ")
}

// FormatAuthors converts a raw comma-separated creator string into a short
// display form: last names of the first three authors, with an "et al."
// marker when more exist. An empty input yields an empty string.
func FormatAuthors(creators string) string {
	var names []string
	for _, name := range strings.Split(creators, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		names = append(names, lastName(name))
	}
	if len(names) == 0 {
		return ""
	}

	etAl := len(names) > 3
	if etAl {
		names = names[:3]
	}

	var s string
	switch len(names) {
	case 1:
		s = names[0]
	case 2:
		s = names[0] + " and " + names[1]
	default:
		s = strings.Join(names[:len(names)-1], ", ") + ", and " + names[len(names)-1]
	}
	if etAl {
		s += " et al."
	}
	return s
}

func lastName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return name
	}
	return fields[len(fields)-1]
}
