package cmd

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jmcleod/credshield/client"
	"github.com/jmcleod/credshield/engine"
	"github.com/jmcleod/credshield/internal/util"
	"github.com/jmcleod/credshield/session"
	bboltstorage "github.com/jmcleod/credshield/storage/bbolt"
)

const secretSize = 32

func newLogger(cmd *cobra.Command) *slog.Logger {
	lvl, err := cfg.Level()
	if err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: lvl}))
}

// withClient opens the session database and runs fn with a client bound
// to it. The database is closed when fn returns.
func withClient(cmd *cobra.Command, fn func(c *client.Client) error) error {
	dir := filepath.Dir(cfg.SessionPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	secret, err := loadOrCreateSecret(cfg.SessionPath + ".key")
	if err != nil {
		return err
	}
	defer util.WipeBytes(secret)

	repo, err := bboltstorage.NewRepositoryFromFile(cfg.SessionPath, nil)
	if err != nil {
		return fmt.Errorf("failed to open session storage: %w", err)
	}
	defer repo.Close()

	logger := newLogger(cmd)
	store, err := session.NewPersistentStore(repo,
		session.WithSealingSecret(secret),
		session.WithStoreLogger(logger),
	)
	if err != nil {
		return err
	}

	c, err := client.New(
		client.WithBaseURL(cfg.BaseURL),
		client.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		client.WithLogger(logger),
		client.WithSessionStore(store),
		client.WithEngine(engine.New(engine.NativeLoader(cfg.KDFConfig()), engine.WithLogger(logger))),
	)
	if err != nil {
		return err
	}
	defer c.Engine().Close()
	return fn(c)
}

// loadOrCreateSecret reads the per-install session sealing secret, creating
// it on first use. Without it a copy of the session database alone does not
// reveal the token.
func loadOrCreateSecret(path string) ([]byte, error) {
	secret, err := os.ReadFile(path)
	if err == nil {
		if len(secret) != secretSize {
			return nil, fmt.Errorf("session secret %s is %d bytes, want %d", path, len(secret), secretSize)
		}
		return secret, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading session secret: %w", err)
	}
	secret, err = util.RandomBytes(secretSize)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, secret, 0o600); err != nil {
		util.WipeBytes(secret)
		return nil, fmt.Errorf("writing session secret: %w", err)
	}
	return secret, nil
}

// readSecret prompts for a secret without echo on a terminal; otherwise it
// reads one line from the command's input.
func readSecret(cmd *cobra.Command, prompt string) ([]byte, error) {
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), prompt)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return nil, fmt.Errorf("reading password: %w", err)
		}
		return b, nil
	}
	return readLine(stdinReader(cmd))
}

// readLine reads a line and strips the trailing newline.
func readLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadBytes('\n')
	if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	return bytes.TrimRight(line, "\r\n"), nil
}

var (
	inputSrc io.Reader
	input    *bufio.Reader
)

// stdinReader reuses one buffered reader for the command input so
// consecutive prompts do not lose buffered bytes.
func stdinReader(cmd *cobra.Command) *bufio.Reader {
	if in := cmd.InOrStdin(); in != inputSrc || input == nil {
		inputSrc = in
		input = bufio.NewReader(in)
	}
	return input
}

// prompt reads a visible value such as a username.
func prompt(cmd *cobra.Command, label string) (string, error) {
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), label)
	}
	line, err := readLine(stdinReader(cmd))
	if err != nil {
		return "", err
	}
	return string(line), nil
}
