package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// stubExec records which commands the REPL dispatched.
type stubExec struct {
	parent bool
	calls  []string
}

func (s *stubExec) isParent() bool { return s.parent }

func (s *stubExec) record(name string) error {
	s.calls = append(s.calls, name)
	return nil
}

func (s *stubExec) Setup(ctx context.Context) error          { return s.record("setup") }
func (s *stubExec) Login(ctx context.Context) error          { return s.record("login") }
func (s *stubExec) AddChild(ctx context.Context) error       { return s.record("addchild") }
func (s *stubExec) UpdateChild(ctx context.Context) error    { return s.record("updatechild") }
func (s *stubExec) RemoveChild(ctx context.Context) error    { return s.record("removechild") }
func (s *stubExec) ChangePassword(ctx context.Context) error { return s.record("passwd") }
func (s *stubExec) Children(ctx context.Context) error       { return s.record("children") }
func (s *stubExec) Chat(ctx context.Context) error           { return s.record("chat") }
func (s *stubExec) Alerts(ctx context.Context) error         { return s.record("alerts") }
func (s *stubExec) Incidents(ctx context.Context) error      { return s.record("incidents") }
func (s *stubExec) Summary(ctx context.Context) error        { return s.record("summary") }
func (s *stubExec) Acknowledge(ctx context.Context) error    { return s.record("ack") }
func (s *stubExec) VerifyAudit(ctx context.Context) error    { return s.record("verify") }
func (s *stubExec) Backup(ctx context.Context) error         { return s.record("backup") }
func (s *stubExec) Logout(ctx context.Context) error         { return s.record("logout") }

func captureOutput(t *testing.T) *[]string {
	t.Helper()
	var lines []string
	orig := printlnFn
	printlnFn = func(a ...any) (int, error) {
		lines = append(lines, fmt.Sprintln(a...))
		return 0, nil
	}
	t.Cleanup(func() { printlnFn = orig })
	return &lines
}

func runWithInput(a execIface, input string) {
	scanner := bufio.NewScanner(strings.NewReader(input))
	runREPL(context.Background(), a, func() string { return "test" }, scanner)
}

func TestREPL_DispatchesCommands(t *testing.T) {
	captureOutput(t)
	stub := &stubExec{}

	runWithInput(stub, "setup\nlogin\nchildren\nchat\nlogout\nexit\n")

	assert.Equal(t, []string{"setup", "login", "children", "chat", "logout"}, stub.calls)
}

func TestREPL_ParentCommands(t *testing.T) {
	captureOutput(t)
	stub := &stubExec{parent: true}

	runWithInput(stub, "addchild\nupdatechild\nremovechild\nalerts\nincidents\nsummary\nack\nverify\nbackup\npasswd\nquit\n")

	assert.Equal(t, []string{"addchild", "updatechild", "removechild", "alerts", "incidents", "summary", "ack", "verify", "backup", "passwd"}, stub.calls)
}

func TestREPL_UnknownCommand(t *testing.T) {
	lines := captureOutput(t)
	stub := &stubExec{}

	runWithInput(stub, "frobnicate\nexit\n")

	assert.Empty(t, stub.calls)
	joined := strings.Join(*lines, "")
	assert.Contains(t, joined, "Unknown command: frobnicate")
}

func TestREPL_BlankLinesIgnored(t *testing.T) {
	captureOutput(t)
	stub := &stubExec{}

	runWithInput(stub, "\n   \nchildren\nexit\n")

	assert.Equal(t, []string{"children"}, stub.calls)
}

func TestREPL_HelpVariesByRole(t *testing.T) {
	lines := captureOutput(t)
	runWithInput(&stubExec{}, "help\nexit\n")
	joined := strings.Join(*lines, "")
	assert.Contains(t, joined, "setup, login")
	assert.NotContains(t, joined, "backup")

	lines2 := captureOutput(t)
	runWithInput(&stubExec{parent: true}, "help\nexit\n")
	joined2 := strings.Join(*lines2, "")
	assert.Contains(t, joined2, "backup")
}

func TestREPL_StopsOnEOF(t *testing.T) {
	captureOutput(t)
	stub := &stubExec{}

	// no exit command; the loop must end when input runs out
	runWithInput(stub, "children\n")

	assert.Equal(t, []string{"children"}, stub.calls)
}
