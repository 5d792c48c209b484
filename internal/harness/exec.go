package harness

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/cubtools/cub/internal/constants"
)

// CommandExecutor abstracts subprocess execution for testing. The production
// implementation runs the command; tests substitute a mock.
//
// The ctx parameter is included for mocks that simulate cancellation; the
// production path relies on exec.CommandContext.
type CommandExecutor interface {
	// Execute runs the command and returns stdout, stderr, and any error.
	Execute(ctx context.Context, cmd *exec.Cmd) (stdout, stderr []byte, err error)
}

// DefaultExecutor runs commands as operating-system subprocesses.
type DefaultExecutor struct{}

// Execute runs the command and captures its output.
func (e *DefaultExecutor) Execute(_ context.Context, cmd *exec.Cmd) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// LineCallback receives each child output line as it is produced.
type LineCallback func(line string)

// StreamingExecutor executes commands while delivering output incrementally.
// Stdout is captured completely for response parsing; both streams are fed
// line-by-line to the callback as they arrive.
type StreamingExecutor struct {
	onLine LineCallback
}

// NewStreamingExecutor creates an executor that streams lines to cb.
func NewStreamingExecutor(cb LineCallback) *StreamingExecutor {
	return &StreamingExecutor{onLine: cb}
}

// Execute runs the command, streaming both pipes while buffering them.
func (e *StreamingExecutor) Execute(_ context.Context, cmd *exec.Cmd) ([]byte, []byte, error) {
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, err
	}

	if startErr := cmd.Start(); startErr != nil {
		return nil, nil, startErr
	}

	var stdout, stderr bytes.Buffer
	var g errgroup.Group
	g.Go(func() error {
		e.streamLines(stdoutPipe, &stdout)
		return nil
	})
	g.Go(func() error {
		e.streamLines(stderrPipe, &stderr)
		return nil
	})
	_ = g.Wait()

	err = cmd.Wait()
	return stdout.Bytes(), stderr.Bytes(), err
}

// streamLines reads r line by line, buffering the complete stream and
// emitting each line to the callback.
func (e *StreamingExecutor) streamLines(r io.Reader, buf *bytes.Buffer) {
	scanner := bufio.NewScanner(r)

	// Assistant CLIs emit long single-line JSON events.
	const maxLineSize = 1024 * 1024
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Text()
		buf.WriteString(line)
		buf.WriteByte('\n')
		if e.onLine != nil {
			e.onLine(line)
		}
	}
}

// writeHarnessLog persists the complete raw child output. The log must exist
// on disk before the invocation returns; forensics and debugging depend on
// it surviving the process.
func writeHarnessLog(path string, stdout, stderr []byte) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), constants.DirPerm); err != nil {
		return err
	}

	var buf bytes.Buffer
	buf.Write(stdout)
	if len(stderr) > 0 {
		buf.WriteString("\n--- stderr ---\n")
		buf.Write(stderr)
	}
	return os.WriteFile(path, buf.Bytes(), constants.FilePerm)
}

var _ CommandExecutor = (*DefaultExecutor)(nil)
var _ CommandExecutor = (*StreamingExecutor)(nil)
