// © 2025 Max Karev. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mkrv/paperbot/internal/archive"
	"github.com/mkrv/paperbot/internal/cli"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
)

// Subject configuration.

type subject struct {
	Name      string             `json:"name"`
	Title     string             `json:"title,omitempty"`
	BlockRule *starlark.Function `json:"-"`
	KeepRule  *starlark.Function `json:"-"`
}

func (s *subject) String() string        { return fmt.Sprintf("<subject name=%q>", s.Name) }
func (s *subject) Type() string          { return "subject" }
func (s *subject) Freeze()               {} // immutable
func (s *subject) Truth() starlark.Bool  { return starlark.Bool(s.Name != "") }
func (s *subject) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable: %s", s.Type()) }

func subjectBuiltin(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) > 0 {
		return nil, fmt.Errorf("unexpected positional arguments")
	}
	s := new(subject)
	if err := starlark.UnpackArgs("subject", args, kwargs,
		"name", &s.Name,
		"title?", &s.Title,
		"block_rule?", &s.BlockRule,
		"keep_rule?", &s.KeepRule,
	); err != nil {
		return nil, err
	}
	return s, nil
}

// loadConfig loads the subject list: config.star in the state directory when
// it exists, the SUBJECTS environment variable otherwise.
func (b *bot) loadConfig() error {
	config, err := os.ReadFile(filepath.Join(b.stateDir, "config.star"))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		b.subjects = subjectsFromEnv(b.subjectsEnv)
		if len(b.subjects) == 0 {
			return fmt.Errorf("%w: no subjects configured; create config.star or set SUBJECTS", cli.ErrInvalidArgs)
		}
		return nil
	}

	b.config = string(config)
	b.subjects, err = b.parseConfig(b.config)
	return err
}

func subjectsFromEnv(s string) []*subject {
	var subjects []*subject
	for _, name := range strings.Split(s, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		subjects = append(subjects, &subject{Name: name})
	}
	return subjects
}

func (b *bot) parseConfig(config string) ([]*subject, error) {
	globals, err := starlark.ExecFileOptions(
		&syntax.FileOptions{
			TopLevelControl: true,
		},
		&starlark.Thread{
			Print: func(_ *starlark.Thread, msg string) { b.logf("%s", msg) },
		},
		"config.star",
		config,
		starlark.StringDict{
			"subject": starlark.NewBuiltin("subject", subjectBuiltin),
		},
	)
	if err != nil {
		return nil, err
	}

	list, ok := globals["subjects"].(*starlark.List)
	if !ok {
		return nil, errors.New("subjects must be defined and be a list")
	}

	var subjects []*subject

	iter := list.Iterate()
	defer iter.Done()

	var elem starlark.Value
	for iter.Next(&elem) {
		subj, ok := elem.(*subject)
		if !ok {
			continue
		}
		if subj.Name == "" {
			return nil, errors.New("subject with an empty name")
		}
		subjects = append(subjects, subj)
	}

	if len(subjects) == 0 {
		return nil, errors.New("config.star defines no subjects")
	}
	return subjects, nil
}

// applyRule evaluates a block or keep rule for a paper. Rule errors are
// logged and treated as "no match".
func (b *bot) applyRule(rule *starlark.Function, it archive.Item) bool {
	val, err := starlark.Call(
		&starlark.Thread{
			Print: func(_ *starlark.Thread, msg string) { b.slog.Info(msg) },
		},
		rule,
		starlark.Tuple{starlarkstruct.FromStringDict(
			starlarkstruct.Default,
			starlark.StringDict{
				"title":    starlark.String(it.Title),
				"url":      starlark.String(it.ID),
				"authors":  starlark.String(it.Authors),
				"abstract": starlark.String(it.Abstract),
			},
		)},
		[]starlark.Tuple{},
	)
	if err != nil {
		b.slog.Warn("applying rule for item", "item", it.ID, "error", err)
		return false
	}

	ret, ok := val.(starlark.Bool)
	if !ok {
		b.slog.Warn("rule returned non-boolean value", "item", it.ID)
		return false
	}
	return bool(ret)
}
