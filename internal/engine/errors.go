package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrExtentOutsideTile classifies a clip whose window misses the raster extent.
var ErrExtentOutsideTile = errors.New("clip window outside raster extent")

// EngineError is a failed tool invocation.
type EngineError struct {
	Tool     string
	Args     []string
	ExitCode int
	Stderr   string
	// Err is the process-level cause (exit status, missing binary).
	Err   error
	class error
}

func (e *EngineError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Tool, e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + firstLines(s, 3)
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *EngineError) Unwrap() []error {
	var errs []error
	if e.class != nil {
		errs = append(errs, e.class)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewEngineError builds an EngineError and classifies it from stderr.
func NewEngineError(cmd Command, exitCode int, stderr string, cause error) *EngineError {
	e := &EngineError{
		Tool:     cmd.Tool,
		Args:     append([]string(nil), cmd.Args...),
		ExitCode: exitCode,
		Stderr:   stderr,
		Err:      cause,
	}
	if cmd.Tool == ToolTranslate && outsideExtent(stderr) {
		e.class = ErrExtentOutsideTile
	}
	return e
}

// IsExtentOutsideTile reports whether err is the recoverable clip failure.
func IsExtentOutsideTile(err error) bool {
	return errors.Is(err, ErrExtentOutsideTile)
}

var outsideMarkers = []string{
	"outside raster extent",
	"outside the raster extent",
	"falls completely outside",
	"partially outside",
}

func outsideExtent(stderr string) bool {
	s := strings.ToLower(stderr)
	for _, m := range outsideMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func firstLines(s string, n int) string {
	lines := strings.SplitN(s, "\n", n+1)
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, " | ")
}
