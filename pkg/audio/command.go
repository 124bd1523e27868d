package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
)

// CommandSource captures audio by running a recorder subprocess (pw-record,
// arecord, parecord, ...) that writes raw S16LE PCM to stdout. No cgo is
// needed. The process is killed and reaped when the source stops, and a
// recorder that exits on its own is reported as [ErrDeviceLost].
type CommandSource struct {
	argv   []string
	format Format
	opts   []SourceOption

	mu      sync.Mutex
	inner   *ReaderSource
	started bool
	closed  bool
}

// NewCommandSource returns a source that runs argv on Start.
func NewCommandSource(argv []string, format Format, opts ...SourceOption) (*CommandSource, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, errors.New("audio: command source: empty command")
	}
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("audio: command source: %w", err)
	}
	return &CommandSource{
		argv:   argv,
		format: format,
		opts:   append(opts, WithEOFAsFault()),
	}, nil
}

// RecorderCommand returns the argv for the first available system recorder,
// preferring PipeWire over ALSA. device selects a capture target and may be
// empty for the system default.
func RecorderCommand(format Format, device string) ([]string, error) {
	rate := strconv.Itoa(format.SampleRate)
	channels := strconv.Itoa(format.Channels)
	if _, err := exec.LookPath("pw-record"); err == nil {
		argv := []string{"pw-record", "--format=s16", "--rate=" + rate, "--channels=" + channels}
		if device != "" {
			argv = append(argv, "--target="+device)
		}
		return append(argv, "-"), nil
	}
	if _, err := exec.LookPath("arecord"); err == nil {
		argv := []string{"arecord", "-q", "-t", "raw", "-f", "S16_LE", "-r", rate, "-c", channels}
		if device != "" {
			argv = append(argv, "-D", device)
		}
		return append(argv, "-"), nil
	}
	return nil, errors.New("audio: no recorder found (install pw-record or arecord)")
}

// Format implements [Source].
func (c *CommandSource) Format() Format { return c.format }

// Start launches the recorder and begins reading frames from its stdout.
func (c *CommandSource) Start(ctx context.Context) (<-chan Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrSourceClosed
	}
	if c.started {
		return nil, ErrSourceStarted
	}
	c.started = true

	cmd := exec.Command(c.argv[0], c.argv[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("audio: recorder stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("audio: start recorder %q: %w", c.argv[0], err)
	}
	slog.Info("audio: recorder started", "cmd", c.argv[0], "pid", cmd.Process.Pid, "format", c.format.String())

	inner, err := NewReaderSource(stdout, c.format, c.opts...)
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, err
	}
	inner.release = func() error {
		// Kill unblocks the pending pipe read; Wait reaps the process and
		// closes stdout.
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		slog.Debug("audio: recorder stopped", "cmd", c.argv[0])
		return nil
	}
	c.inner = inner
	return inner.Start(ctx)
}

// Err implements [Source].
func (c *CommandSource) Err() error {
	c.mu.Lock()
	inner := c.inner
	c.mu.Unlock()
	if inner == nil {
		return nil
	}
	return inner.Err()
}

// Close implements [Source]. The recorder process has exited when Close
// returns.
func (c *CommandSource) Close() error {
	c.mu.Lock()
	c.closed = true
	inner := c.inner
	c.mu.Unlock()
	if inner == nil {
		return nil
	}
	return inner.Close()
}

var (
	_ Source = (*ReaderSource)(nil)
	_ Source = (*CommandSource)(nil)
)
