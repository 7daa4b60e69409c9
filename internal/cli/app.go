// Package cli is the terminal front-end: a small REPL with a parent area
// (profiles, alerts, summaries, backup) and a child chat loop. All policy
// lives below the engine; the CLI only routes and renders.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brightnest/haven/internal/backup"
	"github.com/brightnest/haven/internal/classifier"
	"github.com/brightnest/haven/internal/common"
	"github.com/brightnest/haven/internal/dashboard"
	"github.com/brightnest/haven/internal/engine"
	"github.com/brightnest/haven/internal/logging"
	"github.com/brightnest/haven/internal/profile"
)

// App wires the REPL commands to the services.
type App struct {
	store    *profile.Store
	engine   *engine.Engine
	dash     *dashboard.Service
	exporter *backup.Exporter
	log      logging.Logger

	// tokens hold the parent's dashboard session. Logging out drops them
	// but keeps the store unlocked, so a child can keep chatting on a
	// device the parent already opened.
	tokens dashboard.TokenPair

	reader *bufio.Reader
}

// NewApp builds the CLI. exporter may be nil when backup is disabled.
func NewApp(store *profile.Store, eng *engine.Engine, dash *dashboard.Service, exporter *backup.Exporter, log logging.Logger) *App {
	return &App{
		store:    store,
		engine:   eng,
		dash:     dash,
		exporter: exporter,
		log:      log,
		reader:   bufio.NewReader(os.Stdin),
	}
}

// Run starts the REPL on stdin.
func (a *App) Run(ctx context.Context) {
	if !a.store.HasFamily() {
		printlnFn("Welcome! No family account yet; type 'setup' to create one.")
	}
	scanner := bufio.NewScanner(os.Stdin)
	runREPL(ctx, a, a.status, scanner)
}

func (a *App) status() string {
	switch {
	case a.isParent():
		return "parent"
	case a.store.Unlocked():
		return "family"
	default:
		return "locked"
	}
}

func (a *App) isParent() bool {
	return a.tokens.AccessToken != ""
}

// Setup creates the family account.
func (a *App) Setup(ctx context.Context) error {
	pw, err := GetPassword(os.Stdout, "Choose a parent password")
	if err != nil {
		return err
	}
	if err := a.store.Setup(ctx, pw); err != nil {
		printlnFn("Setup failed:", err.Error())
		return err
	}
	printlnFn("Family account created. Type 'login' to open the parent dashboard.")
	return nil
}

// Login verifies the parent password and opens the dashboard.
func (a *App) Login(ctx context.Context) error {
	pw, err := GetPassword(os.Stdout, "Parent password")
	if err != nil {
		return err
	}
	pair, err := a.dash.Login(ctx, pw)
	if err != nil {
		printlnFn("Login failed:", err.Error())
		return err
	}
	a.tokens = pair
	printlnFn("Parent dashboard unlocked.")
	return nil
}

// Logout drops the parent tokens.
func (a *App) Logout(ctx context.Context) error {
	a.tokens = dashboard.TokenPair{}
	printlnFn("Logged out of the parent dashboard.")
	return nil
}

// AddChild creates a child profile.
func (a *App) AddChild(ctx context.Context) error {
	if !a.requireParent() {
		return common.ErrAuthentication
	}
	name, err := GetSimpleText(a.reader, "Child's name", os.Stdout)
	if err != nil {
		return err
	}
	ageText, err := GetSimpleText(a.reader, "Age (2-18)", os.Stdout)
	if err != nil {
		return err
	}
	age, err := strconv.Atoi(ageText)
	if err != nil {
		printlnFn("Age must be a number.")
		return err
	}
	limitText, err := GetSimpleText(a.reader, "Daily session limit in minutes (0 for default)", os.Stdout)
	if err != nil {
		return err
	}
	minutes, err := strconv.Atoi(limitText)
	if err != nil {
		printlnFn("Minutes must be a number.")
		return err
	}

	p, err := a.store.CreateProfile(ctx, name, age, time.Duration(minutes)*time.Minute)
	if err != nil {
		printlnFn("Could not create profile:", err.Error())
		return err
	}
	printlnFn("Profile created:", p.Name)
	return nil
}

// UpdateChild edits a child profile. Blank answers keep the current value.
func (a *App) UpdateChild(ctx context.Context) error {
	if !a.requireParent() {
		return common.ErrAuthentication
	}
	id, err := a.pickProfile()
	if err != nil {
		return err
	}

	var u profile.Updates
	ageText, err := GetSimpleText(a.reader, "New age (blank to keep)", os.Stdout)
	if err != nil {
		return err
	}
	if ageText != "" {
		age, err := strconv.Atoi(ageText)
		if err != nil {
			printlnFn("Age must be a number.")
			return err
		}
		u.Age = &age
	}
	limitText, err := GetSimpleText(a.reader, "New daily limit in minutes (blank to keep)", os.Stdout)
	if err != nil {
		return err
	}
	if limitText != "" {
		minutes, err := strconv.Atoi(limitText)
		if err != nil {
			printlnFn("Minutes must be a number.")
			return err
		}
		limit := time.Duration(minutes) * time.Minute
		u.SessionLimit = &limit
	}
	topicsText, err := GetSimpleText(a.reader, "Blocked topics, comma separated (blank to keep, '-' to clear)", os.Stdout)
	if err != nil {
		return err
	}
	if topicsText == "-" {
		empty := []string{}
		u.BlockedTopics = &empty
	} else if topicsText != "" {
		topics := splitTopics(topicsText)
		u.BlockedTopics = &topics
	}

	p, err := a.store.UpdateProfile(ctx, id, u)
	if err != nil {
		printlnFn("Could not update profile:", err.Error())
		return err
	}
	printlnFn("Profile updated:", p.Name)
	return nil
}

// RemoveChild deletes a profile and securely erases its files.
func (a *App) RemoveChild(ctx context.Context) error {
	if !a.requireParent() {
		return common.ErrAuthentication
	}
	id, err := a.pickProfile()
	if err != nil {
		return err
	}
	confirm, err := GetSimpleText(a.reader, "Type 'delete' to permanently erase this profile", os.Stdout)
	if err != nil {
		return err
	}
	if confirm != "delete" {
		printlnFn("Cancelled.")
		return nil
	}
	if err := a.store.DeleteProfile(ctx, id); err != nil {
		printlnFn("Could not delete profile:", err.Error())
		return err
	}
	printlnFn("Profile erased.")
	return nil
}

// ChangePassword rotates the parent password and re-encrypts all profiles.
func (a *App) ChangePassword(ctx context.Context) error {
	if !a.requireParent() {
		return common.ErrAuthentication
	}
	oldPw, err := GetPassword(os.Stdout, "Current password")
	if err != nil {
		return err
	}
	newPw, err := GetPassword(os.Stdout, "New password")
	if err != nil {
		return err
	}
	if err := a.store.ChangePassword(ctx, oldPw, newPw); err != nil {
		printlnFn("Could not change password:", err.Error())
		return err
	}
	printlnFn("Password changed.")
	return nil
}

// Children lists the profiles.
func (a *App) Children(ctx context.Context) error {
	refs := a.store.ListProfiles()
	if len(refs) == 0 {
		printlnFn("No child profiles yet.")
		return nil
	}
	for i, ref := range refs {
		printlnFn(fmt.Sprintf("%d. %s", i+1, ref.Name))
	}
	return nil
}

// Chat runs a child session until goodbye, timeout, or escalation.
func (a *App) Chat(ctx context.Context) error {
	refs := a.store.ListProfiles()
	if len(refs) == 0 {
		printlnFn("No child profiles yet; a parent should run 'addchild' first.")
		return nil
	}
	if err := a.Children(ctx); err != nil {
		return err
	}
	pick, err := GetSimpleText(a.reader, "Who is chatting? (number)", os.Stdout)
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(pick)
	if err != nil || n < 1 || n > len(refs) {
		printlnFn("Pick a number from the list.")
		return common.ErrValidation
	}
	ref := refs[n-1]

	s, err := a.engine.OpenSession(ctx, ref.ID)
	if err != nil {
		if errors.Is(err, common.ErrProfileLocked) {
			printlnFn("This profile is paused until a parent reviews it.")
		} else {
			printlnFn("Could not start the chat:", err.Error())
		}
		return err
	}
	printlnFn(fmt.Sprintf("Hi %s! Ask me anything. Say 'bye' when you're done.", ref.Name))

	for {
		text, err := GetSimpleText(a.reader, "", os.Stdout)
		if err != nil {
			_ = a.engine.CloseSession(ctx, s.ID)
			return err
		}
		if text == "" {
			continue
		}
		if text == "bye" {
			if err := a.engine.CloseSession(ctx, s.ID); err != nil {
				a.log.Error(ctx, "closing session", "error", err.Error())
			}
			printlnFn("Bye! Great talking with you.")
			return nil
		}

		reply, err := a.engine.HandleMessage(ctx, s.ID, text)
		if err != nil {
			if errors.Is(err, common.ErrSessionClosed) {
				printlnFn("Time's up for this chat. See you next time!")
				return nil
			}
			if errors.Is(err, common.ErrConfiguration) {
				// the reply carries the neutral fail-closed message
				printlnFn(reply.Text)
				printlnFn("(A parent needs to check the safety settings.)")
				return err
			}
			printlnFn("Something went wrong; let's stop here for now.")
			return err
		}

		printlnFn(reply.Text)
		if reply.IdleWarn {
			printlnFn("(Still there? This chat will pause soon if you step away.)")
		}
		if reply.Verdict == classifier.VerdictEscalate {
			// the engine already ended the session
			return nil
		}
	}
}

// Alerts shows unreviewed incidents.
func (a *App) Alerts(ctx context.Context) error {
	if !a.requireParent() {
		return common.ErrAuthentication
	}
	alerts, err := a.dash.Alerts(ctx, a.tokens.AccessToken)
	if err != nil {
		return a.reportDashErr(ctx, err)
	}
	if len(alerts) == 0 {
		printlnFn("No alerts. All clear.")
		return nil
	}
	for _, al := range alerts {
		printlnFn(fmt.Sprintf("[%s] profile %s: %s (%s) %q",
			al.CreatedAt.Format(time.RFC3339), al.ProfileID, al.Category, al.Verdict, al.Excerpt))
	}
	return nil
}

// Incidents shows the recent incident list for one profile.
func (a *App) Incidents(ctx context.Context) error {
	if !a.requireParent() {
		return common.ErrAuthentication
	}
	id, err := a.pickProfile()
	if err != nil {
		return err
	}
	incidents, err := a.dash.Incidents(ctx, a.tokens.AccessToken, id, 20)
	if err != nil {
		return a.reportDashErr(ctx, err)
	}
	if len(incidents) == 0 {
		printlnFn("No incidents recorded.")
		return nil
	}
	for _, inc := range incidents {
		printlnFn(fmt.Sprintf("[%s] %s/%s -> %s",
			inc.CreatedAt.Format("2006-01-02 15:04"), inc.Category, inc.Severity, inc.Verdict))
	}
	return nil
}

// Summary prints the 7-day report for one profile.
func (a *App) Summary(ctx context.Context) error {
	if !a.requireParent() {
		return common.ErrAuthentication
	}
	id, err := a.pickProfile()
	if err != nil {
		return err
	}
	sum, err := a.dash.Summarize(ctx, a.tokens.AccessToken, id, 7)
	if err != nil {
		return a.reportDashErr(ctx, err)
	}
	for _, d := range sum.Days {
		printlnFn(fmt.Sprintf("%s: %d messages (%d ok, %d redirected, %d blocked, %d escalated)",
			d.Day, d.Messages, d.Allowed, d.Redirected, d.Blocked, d.Escalated))
	}
	if len(sum.StrikeTotals) > 0 {
		printlnFn("Strike totals:")
		for cat, n := range sum.StrikeTotals {
			printlnFn(fmt.Sprintf("  %s: %d", cat, n))
		}
	}
	if sum.AuditOK {
		printlnFn(fmt.Sprintf("Audit log: %d entries, chain verified.", sum.AuditEntries))
	} else {
		printlnFn("Audit log: VERIFICATION FAILED. The log may have been modified.")
	}
	return nil
}

// Acknowledge clears a profile's escalation lock.
func (a *App) Acknowledge(ctx context.Context) error {
	if !a.requireParent() {
		return common.ErrAuthentication
	}
	id, err := a.pickProfile()
	if err != nil {
		return err
	}
	if err := a.dash.AcknowledgeStrikes(ctx, a.tokens.AccessToken, id); err != nil {
		return a.reportDashErr(ctx, err)
	}
	printlnFn("Strikes acknowledged; the profile can chat again.")
	return nil
}

// VerifyAudit checks a profile's audit chain.
func (a *App) VerifyAudit(ctx context.Context) error {
	if !a.requireParent() {
		return common.ErrAuthentication
	}
	id, err := a.pickProfile()
	if err != nil {
		return err
	}
	n, err := a.dash.VerifyAudit(ctx, a.tokens.AccessToken, id)
	if err != nil {
		printlnFn(fmt.Sprintf("Audit chain broken after %d entries: %s", n, err.Error()))
		return err
	}
	printlnFn(fmt.Sprintf("Audit chain OK: %d entries.", n))
	return nil
}

// Backup exports an encrypted archive to the configured bucket.
func (a *App) Backup(ctx context.Context) error {
	if !a.requireParent() {
		return common.ErrAuthentication
	}
	if a.exporter == nil {
		printlnFn("Backup is not configured.")
		return nil
	}
	key, err := a.exporter.Export(ctx, a.store.FamilyID())
	if err != nil {
		printlnFn("Backup failed:", err.Error())
		return err
	}
	printlnFn("Backup uploaded:", key)
	return nil
}

func (a *App) requireParent() bool {
	if a.isParent() {
		return true
	}
	printlnFn("Parent login required; type 'login' first.")
	return false
}

// reportDashErr retries once through a token refresh on expiry.
func (a *App) reportDashErr(ctx context.Context, err error) error {
	if errors.Is(err, common.ErrTokenExpired) {
		pair, rerr := a.dash.Refresh(ctx, a.tokens.RefreshToken)
		if rerr == nil {
			a.tokens = pair
			printlnFn("Session refreshed; please repeat the command.")
			return err
		}
		a.tokens = dashboard.TokenPair{}
		printlnFn("Parent session expired; type 'login' again.")
		return err
	}
	printlnFn("Dashboard error:", err.Error())
	return err
}

func splitTopics(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func (a *App) pickProfile() (string, error) {
	refs := a.store.ListProfiles()
	if len(refs) == 0 {
		printlnFn("No child profiles yet.")
		return "", common.ErrNotFound
	}
	for i, ref := range refs {
		printlnFn(fmt.Sprintf("%d. %s", i+1, ref.Name))
	}
	pick, err := GetSimpleText(a.reader, "Which profile? (number)", os.Stdout)
	if err != nil {
		return "", err
	}
	n, err := strconv.Atoi(pick)
	if err != nil || n < 1 || n > len(refs) {
		printlnFn("Pick a number from the list.")
		return "", common.ErrValidation
	}
	return refs[n-1].ID, nil
}
