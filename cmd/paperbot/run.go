// © 2025 Max Karev. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mkrv/paperbot/internal/archive"
	"github.com/mkrv/paperbot/internal/bluesky"
	"github.com/mkrv/paperbot/internal/compose"
	"github.com/mkrv/paperbot/internal/filelock"
)

// The fetch-and-publish cycle.
//
// Delivery is at-most-once per run attempt, not exactly-once: a crash between
// a successful publish and the archive write repeats that one post on the
// next run. Everything published before a crash that made it into the archive
// stays deduplicated, because the archive is persisted after every post.

func (b *bot) run(ctx context.Context) error {
	// The lock guards the archive against concurrent runs.
	lock, err := filelock.Acquire(filepath.Join(b.stateDir, "run.lock"), strconv.Itoa(os.Getpid()))
	if err != nil {
		return err
	}
	defer lock.Release()

	arch, err := archive.Load(b.archivePath())
	if err != nil {
		return fmt.Errorf("loading archive: %w", err)
	}

	var (
		newFound int
		healthy  int
		errs     []error
	)
	for _, subj := range b.subjects {
		n, err := b.runSubject(ctx, arch, subj)
		newFound += n
		if err != nil {
			// One subject failing doesn't stop the others.
			b.slog.Error("subject failed", "subject", subj.Name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", subj.Name, err))
			continue
		}
		healthy++
	}

	// Re-surface a random archived paper when the run found nothing new.
	// Failed publish attempts still count as found, so the fallback stays
	// quiet on days when papers existed but couldn't be posted. A run where
	// every subject failed is an outage, not a quiet day, and stays silent
	// too.
	if newFound == 0 && healthy > 0 && arch.Len() > b.fallbackThreshold {
		if err := b.fallback(ctx, arch); err != nil {
			errs = append(errs, err)
		}
	}

	if !b.dry {
		if err := arch.Persist(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// runSubject fetches one subject's feed, diffs it against the archive and
// publishes the new papers in feed order. It returns how many new papers the
// diff produced, whether or not their publish attempts succeeded.
func (b *bot) runSubject(ctx context.Context, arch *archive.Archive, subj *subject) (int, error) {
	items, err := b.feeds.Fetch(ctx, subj.Name)
	if err != nil {
		// No partial diff against a failed fetch.
		return 0, err
	}

	var fresh []archive.Item
	for _, it := range items {
		if arch.Contains(it.ID) {
			continue
		}
		if subj.BlockRule != nil && b.applyRule(subj.BlockRule, it) {
			b.slog.Debug("blocked by block rule", "item", it.ID)
			continue
		}
		if subj.KeepRule != nil && !b.applyRule(subj.KeepRule, it) {
			b.slog.Debug("skipped by keep rule", "item", it.ID)
			continue
		}
		fresh = append(fresh, it)
	}
	b.slog.Debug("diffed feed", "subject", subj.Name, "fetched", len(items), "new", len(fresh))

	for i, it := range fresh {
		if err := b.publish(ctx, it); err != nil {
			// Publish failures are not retried; the item is recorded as seen
			// below, so a malformed entry can't cause a retry storm on
			// subsequent runs.
			b.slog.Warn("failed to publish", "item", it.ID, "error", err)
		}

		if b.dry {
			continue
		}
		it.FirstSeen = b.now()
		arch.Merge(it)
		// Persist after every merge so a crash mid-run doesn't republish
		// already-sent items on the next run.
		if err := arch.Persist(); err != nil {
			return len(fresh), err
		}

		if i < len(fresh)-1 {
			if !b.pause(ctx) {
				return len(fresh), ctx.Err()
			}
		}
	}

	return len(fresh), nil
}

// publish composes and submits a single paper. In dry-run mode the post is
// only logged.
func (b *bot) publish(ctx context.Context, it archive.Item) error {
	post := compose.Compose(it.Title, it.Authors, it.Abstract, it.ID, b.budget)

	bp := bluesky.Post{Text: post.Text}
	for _, l := range post.Links {
		bp.Links = append(bp.Links, bluesky.Link{Start: l.Start, End: l.End, URI: l.URI})
	}

	if b.images != nil {
		img, err := b.images.Render(ctx, it)
		switch {
		case err != nil && b.renderFailureMode == renderSkipItem:
			// The caller still records the item as seen.
			b.slog.Warn("rendering failed, skipping item", "item", it.ID, "error", err)
			return nil
		case err != nil:
			b.slog.Warn("rendering failed, posting without image", "item", it.ID, "error", err)
		default:
			bp.Image = &bluesky.Image{Data: img, Alt: it.Title}
		}
	}

	b.slog.Debug("publishing", "item", it.ID, "text", post.Text)
	if b.dry {
		return nil
	}
	return b.publisher.Publish(ctx, bp)
}

// fallback re-posts one uniformly random archived paper. The archive is not
// mutated; the paper is already in it.
func (b *bot) fallback(ctx context.Context, arch *archive.Archive) error {
	items := arch.Items()
	it := items[b.intn(len(items))]
	b.slog.Info("no new papers, re-surfacing an archived one", "item", it.ID)
	if err := b.publish(ctx, it); err != nil {
		return fmt.Errorf("fallback publish: %w", err)
	}
	return nil
}

// pause sleeps for a randomized interval between posts, drawn once per item.
func (b *bot) pause(ctx context.Context) bool {
	d := b.paceMin
	if spread := b.paceMax - b.paceMin; spread > 0 {
		d += time.Duration(b.intn(int(spread/time.Second)+1)) * time.Second
	}
	b.slog.Debug("pausing before next post", "duration", d)
	return b.sleep(ctx, d)
}
