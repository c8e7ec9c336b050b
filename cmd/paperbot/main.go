// © 2025 Max Karev. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"cmp"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/mkrv/paperbot/internal/archive"
	"github.com/mkrv/paperbot/internal/arxiv"
	"github.com/mkrv/paperbot/internal/bluesky"
	"github.com/mkrv/paperbot/internal/cli"
	"github.com/mkrv/paperbot/internal/renderer"
	"github.com/mkrv/paperbot/internal/request"

	_ "github.com/joho/godotenv/autoload"
)

const (
	defaultBudget        = 300
	defaultPaceMin       = 10 * time.Second
	defaultPaceMax       = 120 * time.Second
	defaultFallbackFloor = 2

	renderSkipImage = "skip-image"
	renderSkipItem  = "skip-item"
)

var errNoCredentials = errors.New("BSKY_HANDLE and BSKY_PASSWORD environment variables are required")

func main() { cli.Main(new(bot)) }

func (b *bot) Flags(fs *flag.FlagSet) {
	fs.BoolVar(&b.dry, "dry", false, "Enable dry-run mode: compose and log posts, but don't publish or save state.")
}

// publisher delivers a composed post. Satisfied by [bluesky.Client] and
// faked in tests.
type publisher interface {
	Publish(ctx context.Context, post bluesky.Post) error
}

type bot struct {
	init sync.Once

	// configuration
	dry               bool
	handle            string
	password          string
	pds               string
	stateDir          string
	subjectsEnv       string
	budget            int
	paceMin           time.Duration
	paceMax           time.Duration
	fallbackThreshold int
	rendererURL       string
	renderFailureMode string
	// now acts as time.Now, but can be mocked for testing;
	// likewise sleep and intn.
	now   func() time.Time
	sleep func(context.Context, time.Duration) bool
	intn  func(int) int

	// initialized by doInit
	httpc     *http.Client
	logf      func(string, ...any)
	slog      *slog.Logger
	slogLevel *slog.LevelVar
	feeds     *arxiv.Client
	publisher publisher
	images    renderer.Renderer

	// loaded from config
	config   string
	subjects []*subject
}

func (b *bot) Run(ctx context.Context, env *cli.Env) error {
	// Load configuration from environment variables.
	b.handle = cmp.Or(b.handle, env.Getenv("BSKY_HANDLE"))
	b.password = cmp.Or(b.password, env.Getenv("BSKY_PASSWORD"))
	b.pds = cmp.Or(b.pds, env.Getenv("PDS_URL"), bluesky.DefaultPDS)
	b.stateDir = cmp.Or(b.stateDir, env.Getenv("STATE_DIRECTORY"))
	if b.stateDir == "" {
		xdgStateHome := env.Getenv("XDG_STATE_HOME")
		if xdgStateHome == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			xdgStateHome = filepath.Join(home, ".local", "state")
		}
		b.stateDir = filepath.Join(xdgStateHome, "paperbot")
	}
	if err := os.MkdirAll(b.stateDir, 0o700); err != nil {
		return err
	}
	b.subjectsEnv = cmp.Or(b.subjectsEnv, env.Getenv("SUBJECTS"))
	if b.budget == 0 {
		b.budget = parseIntDefault(env.Getenv("POST_BUDGET"), defaultBudget)
	}
	if b.paceMin == 0 {
		b.paceMin = parseSeconds(env.Getenv("PACE_MIN_SECONDS"), defaultPaceMin)
	}
	if b.paceMax == 0 {
		b.paceMax = parseSeconds(env.Getenv("PACE_MAX_SECONDS"), defaultPaceMax)
	}
	if b.paceMax < b.paceMin {
		return fmt.Errorf("%w: PACE_MAX_SECONDS must not be smaller than PACE_MIN_SECONDS", cli.ErrInvalidArgs)
	}
	if b.fallbackThreshold == 0 {
		b.fallbackThreshold = parseIntDefault(env.Getenv("FALLBACK_THRESHOLD"), defaultFallbackFloor)
	}
	b.rendererURL = cmp.Or(b.rendererURL, env.Getenv("RENDERER_URL"))
	b.renderFailureMode = cmp.Or(b.renderFailureMode, env.Getenv("RENDER_FAILURE_MODE"), renderSkipImage)
	if b.renderFailureMode != renderSkipImage && b.renderFailureMode != renderSkipItem {
		return fmt.Errorf("%w: RENDER_FAILURE_MODE must be %q or %q", cli.ErrInvalidArgs, renderSkipImage, renderSkipItem)
	}

	// Initialize internal state.
	b.init.Do(func() {
		b.doInit(env)
	})

	// Enable debug logging in dry-run mode.
	if b.dry {
		b.slogLevel.Set(slog.LevelDebug)
	}

	if len(env.Args) == 0 {
		return fmt.Errorf("%w: command is required, see -help for usage", cli.ErrInvalidArgs)
	}
	command := env.Args[0]

	switch command {
	case "run":
		// Missing credentials abort before any network activity. A dry run
		// publishes nothing and is allowed to proceed without them.
		if !b.dry && (b.handle == "" || b.password == "") {
			return errNoCredentials
		}
		if err := b.loadConfig(); err != nil {
			return err
		}
		return b.run(ctx)
	case "subjects":
		if err := b.loadConfig(); err != nil {
			return err
		}
		return b.listSubjects(env.Stdout)
	default:
		return fmt.Errorf("%w: no such command %q", cli.ErrInvalidArgs, command)
	}
}

func (b *bot) doInit(env *cli.Env) {
	b.logf = log.New(env.Stderr, "", 0).Printf
	if b.now == nil {
		b.now = time.Now
	}
	if b.sleep == nil {
		b.sleep = sleep
	}
	if b.intn == nil {
		b.intn = rand.IntN
	}
	if b.httpc == nil {
		b.httpc = request.DefaultClient
	}

	b.slogLevel = new(slog.LevelVar)
	b.slog = slog.New(slog.NewTextHandler(env.Stderr, &slog.HandlerOptions{Level: b.slogLevel}))

	if b.feeds == nil {
		b.feeds = &arxiv.Client{HTTPClient: b.httpc}
	}
	if b.publisher == nil {
		b.publisher = bluesky.New(bluesky.Config{
			Handle:     b.handle,
			Password:   b.password,
			PDS:        b.pds,
			HTTPClient: b.httpc,
			Logger:     b.slog,
		})
	}
	if b.images == nil && b.rendererURL != "" {
		b.images = &renderer.Client{URL: b.rendererURL, HTTPClient: b.httpc}
	}
}

func (b *bot) archivePath() string {
	return filepath.Join(b.stateDir, "archive.json")
}

func (b *bot) listSubjects(w io.Writer) error {
	arch, err := archive.Load(b.archivePath())
	if err != nil {
		return err
	}

	for _, subj := range b.subjects {
		var notes []string
		if subj.BlockRule != nil {
			notes = append(notes, "block rule")
		}
		if subj.KeepRule != nil {
			notes = append(notes, "keep rule")
		}
		if len(notes) > 0 {
			fmt.Fprintf(w, "%s (%s)\n", subj.Name, joinNotes(notes))
		} else {
			fmt.Fprintln(w, subj.Name)
		}
	}
	fmt.Fprintf(w, "\n%d papers archived\n", arch.Len())
	return nil
}

func joinNotes(notes []string) string {
	s := notes[0]
	for _, n := range notes[1:] {
		s += ", " + n
	}
	return s
}

func parseIntDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func parseSeconds(s string, def time.Duration) time.Duration {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return time.Duration(n) * time.Second
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
