package lspbackend

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
)

// stdio joins a subprocess's stdout and stdin into one stream.
type stdio struct {
	io.ReadCloser
	stdin io.WriteCloser
}

func (s stdio) Write(p []byte) (int, error) { return s.stdin.Write(p) }

func (s stdio) Close() error {
	return errors.Join(s.stdin.Close(), s.ReadCloser.Close())
}

// Start launches a language server and connects to it over its stdio.
// The process is stopped by Client.Close.
func Start(ctx context.Context, command string, args []string, opts ...Option) (*Client, error) {
	if command == "" {
		return nil, errors.New("lspbackend: empty server command")
	}

	cmd := exec.Command(command, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("lspbackend: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("lspbackend: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("lspbackend: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("lspbackend: start %s: %w", command, err)
	}

	optsView := &Client{logger: log.New(io.Discard, "", 0)}
	for _, opt := range opts {
		opt(optsView)
	}
	logger := optsView.logger
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			logger.Printf("[lspbackend:stderr] %s", scanner.Text())
		}
	}()

	client, err := Connect(ctx, stdio{ReadCloser: stdout, stdin: stdin}, opts...)
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, err
	}

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	client.shutdown = func(ctx context.Context) error {
		select {
		case err := <-exited:
			var exitErr *exec.ExitError
			if err != nil && !errors.As(err, &exitErr) {
				return fmt.Errorf("lspbackend: wait %s: %w", command, err)
			}
			return nil
		case <-ctx.Done():
			_ = cmd.Process.Kill()
			<-exited
			return fmt.Errorf("lspbackend: %s did not exit: %w", command, ctx.Err())
		}
	}
	return client, nil
}
