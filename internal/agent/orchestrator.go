package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/polzovatel/browser-pilot/internal/browser"
	"github.com/polzovatel/browser-pilot/internal/config"
	"github.com/polzovatel/browser-pilot/internal/llm"
	"github.com/polzovatel/browser-pilot/internal/scanner"
)

// Orchestrator owns the session registry and drives each session's plan
// traversal. It implements channel.InboundHandler.
type Orchestrator struct {
	cfg      *config.Config
	launcher *browser.Launcher
	llm      llm.Client
	emitter  Emitter
	recorder Recorder
	shots    ScreenshotSaver
	logger   zerolog.Logger

	planner     *Planner
	scout       *Scout
	visibility  *VisibilityChecker
	synthesizer *Synthesizer

	mu       sync.Mutex
	sessions map[string]*running
}

// running ties a session to its per-session machinery. The decider's
// fallback ladder and the scanner's region table are session-scoped.
type running struct {
	sess   *Session
	scan   *scanner.Scanner
	loop   *Loop
	guard  *Guardrail
	cancel context.CancelFunc
}

func NewOrchestrator(cfg *config.Config, launcher *browser.Launcher, client llm.Client, emitter Emitter, recorder Recorder, shots ScreenshotSaver, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		launcher:    launcher,
		llm:         client,
		emitter:     emitter,
		recorder:    recorder,
		shots:       shots,
		logger:      logger.With().Str("component", "orchestrator").Logger(),
		planner:     NewPlanner(client, logger),
		scout:       NewScout(client, launcher, logger),
		visibility:  NewVisibilityChecker(client, logger),
		synthesizer: NewSynthesizer(client, logger),
		sessions:    make(map[string]*running),
	}
}

// HandleTask starts a new session. An empty sessionID gets a fresh one.
func (o *Orchestrator) HandleTask(sessionID, task, startURL string) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	o.mu.Lock()
	if _, exists := o.sessions[sessionID]; exists {
		o.mu.Unlock()
		o.emitter.Status(sessionID, StatusError, "session already running", nil, "")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &running{
		sess:   NewSession(sessionID, task),
		guard:  NewGuardrail(o.cfg.ConfirmKeywords, o.cfg.AllowedDomains),
		cancel: cancel,
	}
	o.sessions[sessionID] = r
	o.mu.Unlock()

	if startURL == "" {
		startURL = o.cfg.StartURL
	}
	go o.runSession(ctx, r, startURL)
}

// HandleStop tears the session down: cancel, close the browser, forget it.
func (o *Orchestrator) HandleStop(sessionID string) {
	if !o.teardown(sessionID, "session stopped") {
		o.emitter.Status(sessionID, StatusError, "unknown session", nil, "")
	}
}

func (o *Orchestrator) teardown(sessionID, message string) bool {
	o.mu.Lock()
	r, ok := o.sessions[sessionID]
	if ok {
		delete(o.sessions, sessionID)
	}
	o.mu.Unlock()
	if !ok {
		return false
	}
	r.cancel()
	if r.sess.browser != nil {
		_ = r.sess.browser.Close()
	}
	_ = o.recorder.UpdateSessionStatus(context.Background(), sessionID, string(StatusStopped))
	o.emitter.Status(sessionID, StatusStopped, message, nil, "")
	o.logger.Info().Str("session", sessionID).Msg(message)
	return true
}

// HandleConfirmation resumes a paused session. approved executes the
// pending action first; humanHandled means the user finished an ASK_USER
// objective in the browser themselves. A plain decline is a hard stop.
func (o *Orchestrator) HandleConfirmation(sessionID, actionID string, approved, humanHandled bool) {
	o.mu.Lock()
	r, ok := o.sessions[sessionID]
	o.mu.Unlock()
	if !ok {
		o.emitter.Status(sessionID, StatusError, "unknown session", nil, "")
		return
	}
	sess := r.sess
	if !sess.Paused {
		o.emitter.Status(sessionID, StatusError, "session is not paused", nil, "")
		return
	}

	if !approved && !humanHandled {
		// The user rejected the pending action outright. Nothing to resume.
		o.teardown(sessionID, "action declined, session stopped")
		return
	}

	pending := sess.PendingAction
	humanObjective := sess.PausedForHumanObjective
	sess.ClearPause()

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	go func() {
		sess.rebind(r.scan)
		resume := true
		switch {
		case pending != nil && approved && pending.Type == ActionConfirm:
			// CONFIRM is a request for permission, not an executable step;
			// the loop re-decides knowing it has approval.
			if sess.loop != nil {
				sess.loop.feedback = "The user approved: " + pending.Message + ". Proceed."
			}
		case humanHandled || (pending != nil && pending.Type == ActionAskUser):
			// The user acted in the browser; the paused objective is theirs.
			if humanObjective != "" {
				sess.MarkObjectiveDone(humanObjective)
				o.emitter.Log(sess.ID, sess.StepCounter, PhaseNavigate, "objective handled by user: "+humanObjective, "")
				resume = false
			}
		case pending != nil && approved:
			r.loop.ExecutePending(ctx, sess, *pending)
		}
		o.traverse(ctx, r, resume)
	}()
}

// Sessions lists live session ids, for the health endpoint.
func (o *Orchestrator) Sessions() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.sessions))
	for id := range o.sessions {
		out = append(out, id)
	}
	return out
}

// runSession is the one-time setup path: browser, scout, plan, traversal.
func (o *Orchestrator) runSession(ctx context.Context, r *running, startURL string) {
	sess := r.sess
	o.emitter.Status(sess.ID, StatusStarted, "session starting", nil, "")
	if err := o.recorder.CreateSession(ctx, sess.ID, sess.Task, startURL); err != nil {
		o.fail(sess, fmt.Errorf("create session row: %w", err))
		return
	}

	bs, err := o.launcher.NewSession(ctx, o.cfg.ViewportWidth, o.cfg.ViewportHeight)
	if err != nil {
		o.fail(sess, fmt.Errorf("open browser session: %w", err))
		return
	}
	sess.browser = bs
	r.scan = scanner.New(o.logger)
	r.loop = NewLoop(
		NewDecider(o.llm, o.logger),
		r.guard,
		o.visibility,
		o.recorder,
		o.shots,
		o.emitter,
		o.logger,
		o.cfg.MaxSteps,
		o.cfg.MaxScrolls,
	)

	findings := o.scout.Preflight(ctx, sess.ID, sess.Task, o.emitter)

	plan := o.planner.BuildPlan(ctx, sess.Task, startURL, findings)
	sess.Plan = plan
	sess.NeedsSynthesis = plan.NeedsSynthesis
	o.emitter.Log(sess.ID, 0, PhasePlanning, plan.Summary(), "")

	if startURL != "" {
		if err := o.navigate(ctx, r, startURL); err != nil {
			o.fail(sess, err)
			return
		}
	}
	o.traverse(ctx, r, false)
}

// traverse walks the plan from the current index. resume=true continues the
// in-flight objective with its preserved loop state.
func (o *Orchestrator) traverse(ctx context.Context, r *running, resume bool) {
	sess := r.sess
	o.emitter.Status(sess.ID, StatusRunning, "running", nil, "")
	_ = o.recorder.UpdateSessionStatus(ctx, sess.ID, string(StatusRunning))

	for {
		if ctx.Err() != nil {
			return
		}
		step := sess.CurrentStep()
		if step == nil {
			o.finish(ctx, sess)
			return
		}

		sess.rebind(r.scan)
		url := sess.surface.URL()

		// Fast-forward: an objective the page already satisfies is marked
		// done without spending any steps. Resuming repeatedly must never
		// redo completed work.
		if !resume && stepLikelyDone(step, url) {
			o.emitter.Log(sess.ID, sess.StepCounter, PhaseNavigate, "already satisfied: "+step.Title, "")
			sess.MarkObjectiveDone(step.Title)
			continue
		}

		if !resume && step.NeedsAuth {
			ask := Action{Type: ActionAskUser, Message: "Please complete this yourself in the browser: " + step.Title}
			sess.SetPaused(&ask, step.Title)
			o.pause(sess, &ask, PauseAskUser, ask.Message)
			return
		}

		if !resume && step.TargetURL != "" && step.TargetURL != url {
			if err := o.navigate(ctx, r, step.TargetURL); err != nil {
				o.emitter.Log(sess.ID, sess.StepCounter, PhaseNavigate, "navigation failed, deciding from current page", err.Error())
			}
			sess.rebind(r.scan)
		}

		prompt := o.buildContextPrompt(sess, step)
		result, err := r.loop.RunObjective(ctx, sess, step, prompt, resume)
		resume = false
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			o.fail(sess, err)
			return
		}

		switch {
		case result.PendingAction != nil:
			o.pause(sess, result.PendingAction, result.PauseKind, result.Reason)
			return
		case result.Completed:
			if sess.NeedsSynthesis {
				o.captureNote(ctx, sess, step)
			}
			o.emitter.Log(sess.ID, sess.StepCounter, PhaseNavigate, "objective done: "+step.Title, "")
			sess.MarkObjectiveDone(step.Title)
		default:
			// Step cap: the plan did not finish, so the session surfaces as
			// an error. The browser stays open for inspection.
			o.emitter.Log(sess.ID, sess.StepCounter, PhaseNavigate, result.Reason, "")
			_ = o.recorder.UpdateSessionStatus(ctx, sess.ID, string(StatusError))
			o.emitter.Status(sess.ID, StatusError, result.Reason, nil, "")
			return
		}
	}
}

func (o *Orchestrator) navigate(ctx context.Context, r *running, url string) error {
	sess := r.sess
	if !r.guard.URLAllowed(url) {
		return fmt.Errorf("url %s is outside the allowed domains", url)
	}
	o.emitter.Log(sess.ID, sess.StepCounter, PhaseNavigate, "navigating to "+url, "")
	if err := sess.browser.Navigate(ctx, url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	sess.browser.WaitStable(ctx)
	return nil
}

// captureNote stores the visible page text as research material for the
// synthesis pass.
func (o *Orchestrator) captureNote(ctx context.Context, sess *Session, step *PlanStep) {
	text := sess.surface.PageText(ctx, maxNoteLen)
	sess.AddNote(step.Title, text)
}

func (o *Orchestrator) finish(ctx context.Context, sess *Session) {
	summary := "Task complete."
	if sess.NeedsSynthesis && sess.HasSubstantialNote(substantialNoteLen) {
		if s := o.synthesizer.Synthesize(ctx, sess); s != "" {
			summary = s
			o.emitter.Log(sess.ID, sess.StepCounter, PhaseSynthesis, s, "")
		}
	}
	_ = o.recorder.UpdateSessionStatus(ctx, sess.ID, string(StatusCompleted))
	o.emitter.Status(sess.ID, StatusCompleted, summary, nil, "")
	o.logger.Info().Str("session", sess.ID).Int("steps", sess.StepCounter).Msg("session completed")
	// The browser stays open for inspection; only stop closes it.
}

func (o *Orchestrator) pause(sess *Session, pending *Action, kind PauseKind, reason string) {
	_ = o.recorder.UpdateSessionStatus(context.Background(), sess.ID, string(StatusPaused))
	o.emitter.Status(sess.ID, StatusPaused, reason, pending, kind)
	o.logger.Info().Str("session", sess.ID).Str("kind", string(kind)).Msg("session paused")
}

func (o *Orchestrator) fail(sess *Session, err error) {
	_ = o.recorder.UpdateSessionStatus(context.Background(), sess.ID, string(StatusError))
	o.emitter.Status(sess.ID, StatusError, err.Error(), nil, "")
	o.logger.Error().Err(err).Str("session", sess.ID).Msg("session failed")
	// Browser intentionally left open so the user can see where it stopped.
}

// buildContextPrompt frames the current objective inside the whole plan.
func (o *Orchestrator) buildContextPrompt(sess *Session, step *PlanStep) string {
	var b strings.Builder
	b.WriteString("TASK: " + sess.Task + "\n\n")
	b.WriteString(sess.Plan.Summary() + "\n")
	if len(sess.Completed) > 0 {
		b.WriteString("\nCOMPLETED: " + strings.Join(sess.Completed, "; ") + "\n")
	}
	fmt.Fprintf(&b, "\nCURRENT OBJECTIVE (%d of %d): %s\n%s\n", sess.PlanIndex+1, len(sess.Plan.Steps), step.Title, step.Description)
	if notes := sess.NotesTail(notesTailForPrompts); notes != "" {
		b.WriteString("\nNOTES SO FAR:\n" + notes + "\n")
	}
	return b.String()
}

var detailMarkers = []string{"watch?v=", "/in/", "/video/"}

// stepLikelyDone reports whether the current URL already satisfies an
// objective: navigate objectives by host, search objectives by query
// markers, click-into-detail objectives by known detail-page paths.
func stepLikelyDone(step *PlanStep, url string) bool {
	objective := step.Title + " " + step.Description
	if objectiveLooksDone(objective, url) {
		return true
	}
	obj := strings.ToLower(objective)
	if strings.Contains(obj, "click") || strings.Contains(obj, "open") || strings.Contains(obj, "watch") {
		low := strings.ToLower(url)
		for _, m := range detailMarkers {
			if strings.Contains(low, m) {
				return true
			}
		}
	}
	return false
}
