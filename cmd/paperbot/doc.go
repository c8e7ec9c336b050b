// © 2025 Max Karev. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

/*
Paperbot posts new arXiv papers to Bluesky.

Each run fetches the RSS feed of every configured arXiv subject, diffs the
entries against an archive of papers it has already posted, and publishes the
new ones with a randomized pause between posts to stay clear of rate limits.
When a run finds nothing new and the archive holds enough papers, one random
archived paper is re-posted instead, so the account is never silent. This only
happens when at least one feed was actually fetched; a run where every fetch
failed posts nothing.

# Usage

	$ paperbot [flags...] run
	$ paperbot [flags...] subjects

The run command executes one fetch-and-publish cycle; subjects lists the
configured arXiv subjects and archive statistics.

# Environment Variables

The paperbot program relies on the following environment variables:

  - BSKY_HANDLE: Bluesky handle the bot posts as.
  - BSKY_PASSWORD: Bluesky app password (not the account password).
  - PDS_URL: personal data server to talk to. Defaults to https://bsky.social.
  - STATE_DIRECTORY: directory holding archive.json and config.star. Defaults
    to $XDG_STATE_HOME/paperbot.
  - SUBJECTS: comma-separated arXiv subjects (e.g. "stat.ME,econ.EM"), used
    when no config.star exists.
  - POST_BUDGET: maximum post length in characters as Bluesky counts them.
    Defaults to 300.
  - PACE_MIN_SECONDS, PACE_MAX_SECONDS: bounds of the randomized pause between
    posts. Default to 10 and 120.
  - FALLBACK_THRESHOLD: minimum archive size before a no-news run re-posts a
    random archived paper. Defaults to 2.
  - RENDERER_URL: optional endpoint of an abstract-image rendering service.
    When unset, posts carry no image.
  - RENDER_FAILURE_MODE: what to do when rendering fails: "skip-image" (post
    without the image, the default) or "skip-item".

A .env file in the working directory is loaded automatically.

# Configuration

Subjects can also be configured in a config.star file inside STATE_DIRECTORY.
This file is written in Starlark and defines a list of subjects, for example:

	subjects = [
	    subject(name = "stat.ME"),
	    subject(
	        name = "econ.EM",
	        block_rule = lambda item: "replication" in item.title.lower(),
	    ),
	]

Block and keep rules are Starlark functions that take a paper as an argument
and return a boolean. If a block rule returns true, the paper is not posted.
If a keep rule is set, only papers for which it returns true are posted.

The paper passed to block_rule and keep_rule is a struct with the following
keys:

  - title: the title of the paper.
  - url: the paper's link.
  - authors: the formatted author line.
  - abstract: the abstract text.

# State

paperbot stores every paper it has ever posted in archive.json inside
STATE_DIRECTORY and never posts the same paper twice. The file is written
atomically; losing power mid-run leaves the previous archive intact. Papers
whose publish attempt failed are recorded as seen too, so a malformed entry
can't cause a retry storm. The one deliberate gap: a crash between a
successful publish and the archive write may repeat that single post on the
next run.
*/
package main

import (
	_ "embed"

	"github.com/mkrv/paperbot/internal/cli"
)

//go:embed doc.go
var doc []byte

func init() { cli.SetDocComment(doc) }
