package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output.
var printlnFn = fmt.Println

// execIface is the minimal command surface the REPL needs. The real App
// satisfies it; tests provide a stub.
type execIface interface {
	isParent() bool
	Setup(ctx context.Context) error
	Login(ctx context.Context) error
	AddChild(ctx context.Context) error
	UpdateChild(ctx context.Context) error
	RemoveChild(ctx context.Context) error
	ChangePassword(ctx context.Context) error
	Children(ctx context.Context) error
	Chat(ctx context.Context) error
	Alerts(ctx context.Context) error
	Incidents(ctx context.Context) error
	Summary(ctx context.Context) error
	Acknowledge(ctx context.Context) error
	VerifyAudit(ctx context.Context) error
	Backup(ctx context.Context) error
	Logout(ctx context.Context) error
}

// runREPL reads a line, dispatches the first token as a command, and loops
// until EOF or exit. Handler errors are reported by the handlers
// themselves; the loop only routes.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("haven> %s > ", statusFn()))
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}

		switch cmd := parts[0]; cmd {
		case "help":
			if a.isParent() {
				printlnFn("Available commands: addchild, updatechild, removechild, children, chat, alerts, incidents, summary, ack, verify, backup, passwd, logout, exit")
			} else {
				printlnFn("Available commands: setup, login, chat, children, exit")
			}

		case "setup":
			_ = a.Setup(ctx)

		case "login":
			_ = a.Login(ctx)

		case "addchild":
			_ = a.AddChild(ctx)

		case "updatechild":
			_ = a.UpdateChild(ctx)

		case "removechild":
			_ = a.RemoveChild(ctx)

		case "passwd":
			_ = a.ChangePassword(ctx)

		case "children":
			_ = a.Children(ctx)

		case "chat":
			_ = a.Chat(ctx)

		case "alerts":
			_ = a.Alerts(ctx)

		case "incidents":
			_ = a.Incidents(ctx)

		case "summary":
			_ = a.Summary(ctx)

		case "ack":
			_ = a.Acknowledge(ctx)

		case "verify":
			_ = a.VerifyAudit(ctx)

		case "backup":
			_ = a.Backup(ctx)

		case "logout":
			_ = a.Logout(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}
	}
}
