// Package console is the interactive shell of the lock client. It behaves
// as one tab: every command counts as a key press.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/atinyakov/sessionlock/internal/lock"
	"github.com/atinyakov/sessionlock/internal/models"
	"golang.org/x/term"
)

// Test seams for the terminal.
var (
	isTerminal   = term.IsTerminal
	readPassword = term.ReadPassword
)

const auditLimit = 20

// API is the subset of the lock API client the shell uses.
type API interface {
	State(ctx context.Context) (lock.State, error)
	Setup(ctx context.Context, username, pin string) (lock.State, error)
	Unlock(ctx context.Context, pin string) (lock.State, error)
	Lock(ctx context.Context) (lock.State, error)
	LockImmediate(ctx context.Context) (lock.State, error)
	Activity(ctx context.Context, sig lock.Signal) (lock.State, error)
	SetTimeout(ctx context.Context, minutes int) (time.Duration, error)
	Audit(ctx context.Context, limit int) ([]models.AuditEvent, error)
	SignOut(ctx context.Context) error
	CloseTab(ctx context.Context) error
}

// Shell reads commands from in and writes results to out.
type Shell struct {
	api API
	in  *bufio.Reader
	fd  int

	mu  sync.Mutex
	out io.Writer
}

// New returns a shell reading from in. PINs are read without echo when
// stdin is a terminal.
func New(api API, in io.Reader, out io.Writer) *Shell {
	return &Shell{api: api, in: bufio.NewReader(in), out: out, fd: int(os.Stdin.Fd())}
}

// Notify prints a state change reported by the poller.
func (s *Shell) Notify(st lock.State) {
	s.printf("\n[tab] %s\n", Describe(st))
}

// NotifyError prints a poller failure.
func (s *Shell) NotifyError(err error) {
	s.printf("\n[tab] %s\n", errorText(err))
}

// Run executes commands until "exit", end of input or ctx is done. On
// "exit" the tab is closed on the server.
func (s *Shell) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.printf("lock> ")
		line, err := s.in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		args := strings.Fields(line)
		if len(args) == 0 {
			continue
		}

		if args[0] == "exit" {
			if err := s.api.CloseTab(ctx); err != nil {
				s.printf("%s\n", errorText(err))
			}
			s.printf("Bye\n")
			return nil
		}

		// any typed command is activity in this tab
		if _, err := s.api.Activity(ctx, lock.SignalKeyPress); err != nil {
			s.printf("%s\n", errorText(err))
		}
		s.dispatch(ctx, args)
	}
}

func (s *Shell) dispatch(ctx context.Context, args []string) {
	switch args[0] {
	case "help":
		s.printf("Available commands: help, state, setup, unlock, lock, lock!, timeout <minutes>, audit, signout, exit\n")
	case "state":
		s.report(s.api.State(ctx))
	case "setup":
		username, err := s.readLine("Username: ")
		if err != nil {
			s.printf("%s\n", errorText(err))
			return
		}
		pin, err := s.readPIN("New PIN (5 digits): ")
		if err != nil {
			s.printf("%s\n", errorText(err))
			return
		}
		s.report(s.api.Setup(ctx, username, pin))
	case "unlock":
		pin, err := s.readPIN("PIN: ")
		if err != nil {
			s.printf("%s\n", errorText(err))
			return
		}
		s.report(s.api.Unlock(ctx, pin))
	case "lock":
		s.report(s.api.Lock(ctx))
	case "lock!":
		s.report(s.api.LockImmediate(ctx))
	case "timeout":
		if len(args) < 2 {
			s.printf("Usage: timeout <minutes>\n")
			return
		}
		minutes, err := strconv.Atoi(args[1])
		if err != nil {
			s.printf("Usage: timeout <minutes>\n")
			return
		}
		d, err := s.api.SetTimeout(ctx, minutes)
		if err != nil {
			s.printf("%s\n", errorText(err))
			return
		}
		s.printf("Idle timeout is %s\n", d)
	case "audit":
		events, err := s.api.Audit(ctx, auditLimit)
		if err != nil {
			s.printf("%s\n", errorText(err))
			return
		}
		for _, e := range events {
			s.printf("%s  %-18s %s\n", e.CreatedAt.Local().Format(time.DateTime), e.Kind, e.TabID)
		}
	case "signout":
		if err := s.api.SignOut(ctx); err != nil {
			s.printf("%s\n", errorText(err))
			return
		}
		s.printf("Signed out\n")
	default:
		s.printf("Unknown command. Type 'help' for a list of commands.\n")
	}
}

func (s *Shell) report(st lock.State, err error) {
	if err != nil {
		s.printf("%s\n", errorText(err))
		return
	}
	s.printf("%s\n", Describe(st))
}

func (s *Shell) readLine(prompt string) (string, error) {
	s.printf("%s", prompt)
	line, err := s.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (s *Shell) readPIN(prompt string) (string, error) {
	if !isTerminal(s.fd) {
		return s.readLine(prompt)
	}
	s.printf("%s", prompt)
	b, err := readPassword(s.fd)
	s.printf("\n")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *Shell) printf(format string, a ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format, a...)
}

// Describe renders a lock state on one line.
func Describe(st lock.State) string {
	switch {
	case st.NeedsSetup:
		return "No PIN set up yet, run 'setup'"
	case st.StickyLocked:
		return "Locked until the PIN is entered" + owner(st)
	case st.IsLocked:
		return "Locked after inactivity" + owner(st)
	case st.Phase == lock.PhaseUnlocked:
		return "Unlocked" + owner(st)
	default:
		return "Not signed in"
	}
}

func owner(st lock.State) string {
	if st.Username == "" {
		return ""
	}
	return " (" + st.Username + ")"
}

func errorText(err error) string {
	switch {
	case errors.Is(err, lock.ErrInvalidPIN),
		errors.Is(err, lock.ErrNotSetUp),
		errors.Is(err, lock.ErrInvalidPINFormat),
		errors.Is(err, lock.ErrEmptyUsername),
		errors.Is(err, lock.ErrStoreUnavailable),
		errors.Is(err, lock.ErrNotAuthenticated):
		return lock.Message(err)
	default:
		return "error: " + err.Error()
	}
}
