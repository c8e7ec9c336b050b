// © 2025 Max Karev. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package compose builds length-bounded post bodies with embedded link spans.
//
// The length budget is measured in grapheme clusters, not bytes or runes:
// that's how Bluesky counts post length, so undercounting causes rejected
// posts and overcounting causes needless truncation. Span offsets, in
// contrast, are byte offsets into the UTF-8 encoded body, which is what the
// rich-text facet wire format expects.
package compose

import (
	"strings"
	"unicode"

	"github.com/rivo/uniseg"
)

const (
	// linkLabel is the constant display text the link span covers. The
	// destination URI travels out-of-band in the span, not as visible text.
	linkLabel = "📈 arXiv"
	separator = "\n"
)

// Span is a byte offset range within a post's text annotated with a
// destination URI.
type Span struct {
	Start int
	End   int
	URI   string
}

// Post is a composed, ready-to-publish post body.
type Post struct {
	Text  string
	Links []Span
}

// Compose builds a post from a paper's title, authors, abstract and link,
// keeping the text within budget grapheme clusters. The header (title plus
// authors) takes precedence; whatever room remains goes to the abstract.
// Truncation happens at word boundaries where one exists before the limit.
func Compose(title, authors, abstract, link string, budget int) Post {
	title = sanitize(title)
	authors = sanitize(authors)
	abstract = sanitize(abstract)

	header := title
	switch {
	case title == "":
		header = authors
	case authors != "":
		header = title + " (" + authors + ")"
	}

	if budget < uniseg.GraphemeClusterCount(linkLabel) {
		// Not enough room even for the bare link label. Degrade to a
		// truncated header so the budget still holds.
		return Post{Text: truncate(header, budget)}
	}
	avail := budget - uniseg.GraphemeClusterCount(separator+linkLabel)
	if avail < 0 {
		avail = 0
	}

	var body string
	if headerLen := uniseg.GraphemeClusterCount(header); headerLen > avail {
		body = truncate(header, avail)
	} else {
		body = header
		if abstract != "" {
			if room := avail - headerLen - 1; room > 0 {
				if frag := truncate(abstract, room); frag != "" {
					body = header + " " + frag
				}
			}
		}
	}

	// Safety net in case the reserved space was misestimated.
	if uniseg.GraphemeClusterCount(body) > avail {
		body = truncate(body, avail)
	}

	text := linkLabel
	if body != "" {
		text = body + separator + linkLabel
	}

	p := Post{Text: text}
	if link != "" {
		p.Links = []Span{{
			Start: len(text) - len(linkLabel),
			End:   len(text),
			URI:   link,
		}}
	}
	return p
}

// sanitize collapses all whitespace and control characters into single
// spaces. Raw control characters are structurally significant to some
// renderers and must never reach the post body verbatim.
func sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// truncate returns a prefix of s that is at most limit grapheme clusters
// long, cut at the last whitespace boundary at or before the limit. A single
// token longer than the limit is hard-cut; a word is never split otherwise.
func truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if uniseg.GraphemeClusterCount(s) <= limit {
		return s
	}

	var (
		g         = uniseg.NewGraphemes(s)
		count     int
		cut       int // byte offset of the hard cut
		lastSpace = -1
	)
	for g.Next() {
		start, end := g.Positions()
		if count == limit {
			if isSpace(g.Str()) {
				// The first excluded cluster is whitespace, so the hard cut
				// already falls on a word boundary.
				lastSpace = start
			}
			break
		}
		if isSpace(g.Str()) {
			lastSpace = start
		}
		cut = end
		count++
	}
	if lastSpace > 0 {
		cut = lastSpace
	}
	return strings.TrimRight(s[:cut], " ")
}

func isSpace(cluster string) bool {
	return strings.TrimSpace(cluster) == ""
}
