// Package tmux queries the tmux session registry that agent sessions run
// under. It supplies the identity fields for the write path and the live
// session set for orphan detection.
package tmux

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/gabemahoney/waggle/internal/identity"
)

// fieldSep separates fields in list-sessions output. Tab is used instead of
// colon because tmux session names can contain colons, which would break
// parsing.
const fieldSep = "\t"

// sessionFormat is the 4-field list-sessions format: name, id, created, path.
var sessionFormat = strings.Join([]string{
	"#{session_name}", "#{session_id}", "#{session_created}", "#{session_path}",
}, fieldSep)

// Session is one live tmux session.
type Session struct {
	Name    string
	ID      string
	Created string
	// Path is the session's current working directory.
	Path string
}

// Identity returns the identity triple for the session.
func (s Session) Identity() identity.Identity {
	return identity.New(s.Name, s.ID, s.Created)
}

// runner executes a tmux command and returns its stdout. Injectable so
// tests run without a tmux server.
type runner func(ctx context.Context, args ...string) (string, error)

// Client shells out to tmux with a bounded per-command timeout.
type Client struct {
	run     runner
	timeout time.Duration
}

// NewClient returns a Client that executes the real tmux binary.
func NewClient() *Client {
	return &Client{run: execTmux, timeout: 5 * time.Second}
}

func execTmux(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "tmux", args...).Output()
	if err != nil {
		return "", fmt.Errorf("tmux %s: %w", args[0], err)
	}
	return string(out), nil
}

// CurrentIdentity derives the identity of the session this process runs in.
// It never fails: any field tmux cannot supply (no server, not inside a
// session, tmux missing) independently falls back to the sentinel.
func (c *Client) CurrentIdentity(ctx context.Context) identity.Identity {
	return identity.New(
		c.displayMessage(ctx, "#{session_name}"),
		c.displayMessage(ctx, "#{session_id}"),
		c.displayMessage(ctx, "#{session_created}"),
	)
}

// displayMessage queries one format field of the current session.
// Failures yield "" so the caller's sentinel substitution applies.
func (c *Client) displayMessage(ctx context.Context, format string) string {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.run(ctx, "display-message", "-p", format)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

// Sessions lists all live sessions. A tmux failure (no server, no sessions,
// binary missing) is returned as an error so callers can decide whether the
// condition is fatal: the reconciler must not mistake "tmux down" for
// "every session is dead".
func (c *Client) Sessions(ctx context.Context) ([]Session, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.run(ctx, "list-sessions", "-F", sessionFormat)
	if err != nil {
		return nil, err
	}
	return parseSessions(out), nil
}

// LiveKeys returns the identity keys of all live sessions.
// It satisfies the liveness.Registry interface.
func (c *Client) LiveKeys(ctx context.Context) (map[string]bool, error) {
	sessions, err := c.Sessions(ctx)
	if err != nil {
		return nil, err
	}
	live := make(map[string]bool, len(sessions))
	for _, s := range sessions {
		live[s.Identity().Key()] = true
	}
	return live, nil
}

// parseSessions parses list-sessions output, skipping short or empty lines.
func parseSessions(out string) []Session {
	var sessions []Session
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, fieldSep, 4)
		if len(parts) < 3 {
			continue
		}
		s := Session{Name: parts[0], ID: parts[1], Created: parts[2]}
		if len(parts) == 4 {
			s.Path = parts[3]
		}
		sessions = append(sessions, s)
	}
	return sessions
}
