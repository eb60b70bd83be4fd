package gitsync

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Committer snapshots the trade log into version control.
type Committer interface {
	Commit(ctx context.Context, message string) error
}

// Runner executes a command in dir and returns its combined output.
type Runner func(ctx context.Context, dir, name string, args ...string) ([]byte, error)

// Git commits the configured paths and optionally pushes them.
type Git struct {
	RepoPath string
	Paths    []string
	Push     bool
	Timeout  time.Duration
	Run      Runner

	logger zerolog.Logger
}

func New(repoPath string, paths []string, push bool) *Git {
	return &Git{
		RepoPath: repoPath,
		Paths:    paths,
		Push:     push,
		Timeout:  time.Minute,
		Run:      execRunner,
		logger:   log.With().Str("component", "gitsync").Logger(),
	}
}

// Commit stages the paths and commits them if anything changed.
func (g *Git) Commit(ctx context.Context, message string) error {
	ctx, cancel := context.WithTimeout(ctx, g.Timeout)
	defer cancel()

	if _, err := g.git(ctx, append([]string{"add", "--"}, g.Paths...)...); err != nil {
		return err
	}
	out, err := g.git(ctx, append([]string{"status", "--porcelain", "--"}, g.Paths...)...)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(out)) == 0 {
		g.logger.Debug().Msg("trade log unchanged, nothing to commit")
		return nil
	}
	if _, err := g.git(ctx, append([]string{"commit", "-m", message, "--"}, g.Paths...)...); err != nil {
		return err
	}
	if g.Push {
		if _, err := g.git(ctx, "push"); err != nil {
			return err
		}
	}
	g.logger.Info().Bool("pushed", g.Push).Msg("trade log committed")
	return nil
}

func (g *Git) git(ctx context.Context, args ...string) ([]byte, error) {
	out, err := g.Run(ctx, g.RepoPath, "git", args...)
	if err != nil {
		return out, fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

func execRunner(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// Noop is used when synchronization is disabled.
type Noop struct{}

func (Noop) Commit(context.Context, string) error { return nil }
