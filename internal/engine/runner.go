package engine

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/mohammed-shakir/lakeextract/internal/core/observability"
	"github.com/mohammed-shakir/lakeextract/internal/logger"
)

// Runner executes one command synchronously. A failure is an *EngineError.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

const maxStderr = 16 << 10

// ExecRunner runs tools as child processes.
type ExecRunner struct {
	binDir string
	log    *slog.Logger
}

// NewExecRunner resolves tools inside binDir, or on PATH when binDir is empty.
func NewExecRunner(binDir string, log *slog.Logger) *ExecRunner {
	return &ExecRunner{binDir: binDir, log: logger.OrDiscard(log)}
}

func (r *ExecRunner) Run(ctx context.Context, cmd Command) error {
	bin := cmd.Tool
	if r.binDir != "" {
		bin = filepath.Join(r.binDir, cmd.Tool)
	}

	c := exec.CommandContext(ctx, bin, cmd.Args...)
	var stdout bytes.Buffer
	stderr := &cappedBuffer{limit: maxStderr}
	c.Stdout = &stdout
	c.Stderr = stderr

	r.log.DebugContext(ctx, "engine command", "tool", cmd.Tool, "cmd", cmd.String())
	start := time.Now()
	err := c.Run()
	elapsed := time.Since(start)

	if err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		ee := NewEngineError(cmd, code, stderr.String(), err)
		observability.ObserveEngineCommand(cmd.Tool, ee, elapsed.Seconds())
		r.log.ErrorContext(ctx, "engine command failed", "tool", cmd.Tool, "exit_code", code, "err", ee)
		return ee
	}
	observability.ObserveEngineCommand(cmd.Tool, nil, elapsed.Seconds())
	if s := stderr.String(); s != "" {
		r.log.DebugContext(ctx, "engine stderr", "tool", cmd.Tool, "stderr", s)
	}
	return nil
}

// cappedBuffer keeps the first limit bytes written to it.
type cappedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string { return b.buf.String() }
