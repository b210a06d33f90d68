package tracker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// CommandEvaluator invokes the external evaluation engine as a
// subprocess in headless conversion mode. Given a record file, the
// engine writes an equivalent file with all derived tables populated
// into the output directory; on success the original is atomically
// replaced with the evaluated copy, so the input never ends up
// half-written.
type CommandEvaluator struct {
	// Program is the engine executable path.
	Program string
	// OutDir is the scratch directory for evaluated copies.
	OutDir string
	// Timeout bounds a single engine invocation.
	Timeout time.Duration
}

// NewCommandEvaluator builds an evaluator with a default scratch
// directory and timeout.
func NewCommandEvaluator(program string) *CommandEvaluator {
	return &CommandEvaluator{
		Program: program,
		OutDir:  ".tmp_eval",
		Timeout: 10 * time.Second,
	}
}

// Evaluate runs one engine pass over the record file at path.
func (e *CommandEvaluator) Evaluate(ctx context.Context, path string) error {
	if e.Program == "" {
		return errors.New("no evaluation engine configured")
	}

	outFile := filepath.Join(e.OutDir, filepath.Base(path))
	if _, err := os.Stat(outFile); err == nil {
		return fmt.Errorf("output file %q already exists: a previous evaluation may have failed", outFile)
	}

	if err := os.MkdirAll(e.OutDir, 0o750); err != nil {
		return fmt.Errorf("failed to create engine output directory: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve record path: %w", err)
	}

	timeout := e.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, e.Program,
		"--headless",
		"--outdir", e.OutDir,
		absPath,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("evaluation engine timed out after %s", timeout)
		}
		return fmt.Errorf("evaluation engine failed: %w\nstdout: %s\nstderr: %s",
			err, stdout.String(), stderr.String())
	}

	if _, err := os.Stat(outFile); err != nil {
		return fmt.Errorf("evaluation engine did not produce %q\nstdout: %s\nstderr: %s",
			outFile, stdout.String(), stderr.String())
	}

	// Evaluation succeeded: replace the record with the evaluated copy.
	if err := os.Rename(outFile, path); err != nil {
		return fmt.Errorf("failed to move evaluated record into place: %w", err)
	}
	return nil
}
