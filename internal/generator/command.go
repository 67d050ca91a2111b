package generator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrWong99/voicebank/internal/dialogue"
)

const defaultCommandTimeout = 60 * time.Second

// maxOutputInError bounds how much command output is quoted in an error.
const maxOutputInError = 512

// CommandOption is a functional option for configuring a [Command].
type CommandOption func(*Command)

// WithCommandTimeout bounds one run. Defaults to 60s.
func WithCommandTimeout(d time.Duration) CommandOption {
	return func(c *Command) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithCommandOutputDir sets the directory voice paths are resolved below.
func WithCommandOutputDir(dir string) CommandOption {
	return func(c *Command) { c.root = dir }
}

// Command runs an external program for every line, such as a FaceFX based
// lip-sync tool or an in-game playback bridge. It implements both
// [dialogue.LipSyncer] and [dialogue.Player].
//
// Arguments are passed to the program without a shell. These placeholders
// are replaced in every argument:
//
//	{wav} {lip} {fuz}   local file paths of the line
//	{text}              the spoken text
//	{voice_file}        the checked-out voice file
//	{folder}            the actor's voice folder
type Command struct {
	name    string
	path    string
	args    []string
	timeout time.Duration
	root    string
}

var (
	_ dialogue.LipSyncer = (*Command)(nil)
	_ dialogue.Player    = (*Command)(nil)
)

// NewCommand creates a Command. name labels errors.
func NewCommand(name, path string, args []string, opts ...CommandOption) (*Command, error) {
	if path == "" {
		return nil, fmt.Errorf("%s: command path must not be empty", name)
	}
	c := &Command{
		name:    name,
		path:    path,
		args:    append([]string(nil), args...),
		timeout: defaultCommandTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// LipSync runs the command to produce req.Paths.Lip and req.Paths.Fuz.
func (c *Command) LipSync(ctx context.Context, req dialogue.Request) error {
	return c.run(ctx, req)
}

// Play runs the command to play the finished line.
func (c *Command) Play(ctx context.Context, req dialogue.Request) error {
	return c.run(ctx, req)
}

// Args returns the arguments the command would receive for req.
func (c *Command) Args(req dialogue.Request) []string {
	local := localPaths(c.root, req.Paths)
	r := strings.NewReplacer(
		"{wav}", local.Wav,
		"{lip}", local.Lip,
		"{fuz}", local.Fuz,
		"{text}", req.Line.Text,
		"{voice_file}", req.VoiceFile,
		"{folder}", folderOf(req),
	)
	out := make([]string, len(c.args))
	for i, a := range c.args {
		out[i] = r.Replace(a)
	}
	return out
}

func (c *Command) run(ctx context.Context, req dialogue.Request) error {
	local := localPaths(c.root, req.Paths)
	for _, dir := range []string{filepath.Dir(local.Lip), filepath.Dir(local.Fuz)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%s: create %s: %w", c.name, dir, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, c.path, c.Args(req)...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = time.Second
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				return fmt.Errorf("%s: %s timed out after %s: %w", c.name, c.path, c.timeout, ctxErr)
			}
			return fmt.Errorf("%s: %s: %w", c.name, c.path, ctxErr)
		}
		msg := strings.TrimSpace(out.String())
		if len(msg) > maxOutputInError {
			msg = msg[:maxOutputInError] + "…"
		}
		if msg != "" {
			return fmt.Errorf("%s: %s: %w: %s", c.name, c.path, err, msg)
		}
		return fmt.Errorf("%s: %s: %w", c.name, c.path, err)
	}
	return nil
}
