package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/polzovatel/browser-pilot/internal/scanner"
	"github.com/polzovatel/browser-pilot/internal/store"
)

const (
	defaultScrollPx     = 600
	defaultMaxSteps     = 50
	defaultMaxScrolls   = 5
	historyWindow       = 5
	substantialNoteLen  = 100
	notesTailForPrompts = 3000
)

// loopState survives a pause so a resumed objective picks up exactly where
// it left off instead of re-deciding from scratch.
type loopState struct {
	lastAction  *Action
	lastOutcome *Outcome
	lastURL     string
	scrollCount int
	feedback    string

	// geometry sampled at the previous auto-scroll; an unchanged sample
	// means the page no longer moves
	lastGeo *scanner.Geometry

	// no-op fill recovery ladder
	recoveryRegion string
	recoveryStage  int
}

// LoopResult is how one objective run ended.
type LoopResult struct {
	Completed     bool
	Reason        string
	PendingAction *Action
	PauseKind     PauseKind
}

// Loop drives one objective to completion through the
// observe-decide-act-verify cycle.
type Loop struct {
	decider    *Decider
	guard      *Guardrail
	visibility *VisibilityChecker
	recorder   Recorder
	shots      ScreenshotSaver
	emitter    Emitter
	logger     zerolog.Logger

	maxSteps   int
	maxScrolls int
}

func NewLoop(decider *Decider, guard *Guardrail, vis *VisibilityChecker, rec Recorder, shots ScreenshotSaver, emit Emitter, logger zerolog.Logger, maxSteps, maxScrolls int) *Loop {
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}
	if maxScrolls <= 0 {
		maxScrolls = defaultMaxScrolls
	}
	return &Loop{
		decider:    decider,
		guard:      guard,
		visibility: vis,
		recorder:   rec,
		shots:      shots,
		emitter:    emit,
		logger:     logger,
		maxSteps:   maxSteps,
		maxScrolls: maxScrolls,
	}
}

// RunObjective iterates the cycle until the objective is done, a pause is
// needed, or the session step cap is hit. resume=true keeps the previous
// loop state; a fresh objective starts clean.
func (l *Loop) RunObjective(ctx context.Context, sess *Session, step *PlanStep, contextPrompt string, resume bool) (LoopResult, error) {
	if !resume || sess.loop == nil {
		sess.loop = &loopState{}
		l.decider.ResetObjective()
	}
	st := sess.loop

	for {
		if err := ctx.Err(); err != nil {
			return LoopResult{}, err
		}
		if sess.StepCounter >= l.maxSteps {
			return LoopResult{Completed: false, Reason: fmt.Sprintf("step cap of %d reached", l.maxSteps)}, nil
		}
		stepNum := sess.NextStepNumber()

		// OBSERVE. A URL change resets the scroll budget and any recovery
		// ladder; the new page starts clean.
		url := sess.surface.URL()
		if st.lastURL != "" && url != st.lastURL {
			st.scrollCount = 0
			st.lastGeo = nil
			st.recoveryStage = 0
			st.recoveryRegion = ""
		}
		quick := st.lastURL == url && st.lastURL != ""
		st.lastURL = url

		regions, err := sess.surface.Scan(ctx, quick)
		if err != nil {
			l.logger.Warn().Err(err).Int("step", stepNum).Msg("scan failed")
		}
		pageText := sess.surface.PageText(ctx, maxPromptPageText)
		l.emitter.Log(sess.ID, stepNum, PhaseObserve, fmt.Sprintf("%s: %d regions", url, len(regions)), "")

		// Auto-recovery: a fill that changed nothing means the widget never
		// registered the value. Escalate instead of re-deciding.
		if rec, pause := l.recoveryAction(st, regions); pause != nil {
			l.recordTerminal(ctx, sess, stepNum, *pause)
			sess.SetPaused(pause, "")
			return LoopResult{PendingAction: pause, PauseKind: PauseAskUser, Reason: pause.Message}, nil
		} else if rec != nil {
			l.emitter.Log(sess.ID, stepNum, PhaseAct, "recovering unregistered input: "+string(rec.Type), "")
			l.actAndRecord(ctx, sess, stepNum, *rec, regions, pageText)
			continue
		}

		// Auto-scroll gate: cheap semantic check before spending a model
		// decision. Never scrolls past the bottom or over the budget.
		scrollStatus, geo := l.scrollStatus(ctx, sess, step, pageText, st)
		if !scrollStatus.ContentVisible && !scrollStatus.BottomReached && st.scrollCount < l.maxScrolls {
			st.scrollCount++
			st.lastGeo = &geo
			auto := Action{Type: ActionScroll, Direction: "down", Amount: defaultScrollPx, Description: "auto-scroll"}
			l.emitter.Log(sess.ID, stepNum, PhaseObserve, fmt.Sprintf("auto-scroll %d/%d", st.scrollCount, l.maxScrolls), "")
			l.actAndRecord(ctx, sess, stepNum, auto, regions, pageText)
			continue
		}

		// DECIDE.
		history, err := l.recorder.RecentSteps(ctx, sess.ID, historyWindow)
		if err != nil {
			l.logger.Warn().Err(err).Msg("history load failed")
		}
		in := DecideInput{
			SessionID:     sess.ID,
			ContextPrompt: contextPrompt,
			Task:          sess.Task,
			URL:           url,
			History:       history,
			PageText:      pageText,
			Regions:       regions,
			StepNumber:    stepNum,
			LastAction:    st.lastAction,
			LastOutcome:   st.lastOutcome,
			ScrollStatus:  scrollStatus,
			Feedback:      st.feedback,
			StepTitle:     step.Title,
			StepText:      step.Description,
		}
		st.feedback = ""
		dec, err := l.decider.Decide(ctx, in)
		if err != nil {
			return LoopResult{}, err
		}
		l.emitter.Log(sess.ID, stepNum, PhaseDecide, fmt.Sprintf("%s (%.2f): %s", dec.Action.Type, dec.Confidence, dec.Reasoning), "")

		// Terminal decisions resolve without touching the page.
		switch dec.Action.Type {
		case ActionDone:
			l.recordTerminal(ctx, sess, stepNum, dec.Action)
			return LoopResult{Completed: true, Reason: dec.Action.Reason}, nil
		case ActionAskUser:
			l.recordTerminal(ctx, sess, stepNum, dec.Action)
			sess.SetPaused(&dec.Action, step.Title)
			return LoopResult{PendingAction: &dec.Action, PauseKind: PauseAskUser, Reason: dec.Action.Message}, nil
		case ActionConfirm:
			l.recordTerminal(ctx, sess, stepNum, dec.Action)
			sess.SetPaused(&dec.Action, "")
			return LoopResult{PendingAction: &dec.Action, PauseKind: PauseConfirm, Reason: dec.Action.Message}, nil
		}

		// Guardrail.
		verdict := l.guard.Check(dec.Action, regions)
		if !verdict.Allowed {
			if verdict.RequiresConfirmation {
				pending := dec.Action
				l.emitter.Log(sess.ID, stepNum, PhaseDecide, "needs confirmation: "+verdict.Reason, "")
				l.recordTerminal(ctx, sess, stepNum, pending)
				sess.SetPaused(&pending, "")
				return LoopResult{PendingAction: &pending, PauseKind: PauseConfirm, Reason: verdict.Reason}, nil
			}
			l.emitter.Log(sess.ID, stepNum, PhaseDecide, "blocked: "+verdict.Reason, "")
			st.feedback = "Previous action was blocked: " + verdict.Reason + ". Choose a different action."
			continue
		}

		// ACT + VERIFY.
		l.actAndRecord(ctx, sess, stepNum, dec.Action, regions, pageText)
	}
}

// ExecutePending runs a user-approved pending action once, outside the
// decide cycle, so resume continues from its outcome.
func (l *Loop) ExecutePending(ctx context.Context, sess *Session, a Action) {
	stepNum := sess.NextStepNumber()
	l.emitter.Log(sess.ID, stepNum, PhaseAct, "executing approved action: "+string(a.Type), "")
	regions, _ := sess.surface.Scan(ctx, true)
	pageText := sess.surface.PageText(ctx, maxPromptPageText)
	l.actAndRecord(ctx, sess, stepNum, a, regions, pageText)
}

// actAndRecord executes one page action, derives its outcome, persists the
// step row, captures the screenshot and emits the verify line.
func (l *Loop) actAndRecord(ctx context.Context, sess *Session, stepNum int, a Action, regions []scanner.Region, pageText string) {
	before := l.captureState(ctx, sess, pageText)
	actErr := executeAction(ctx, sess.surface, a)
	l.settle(ctx, sess)
	after := l.captureState(ctx, sess, "")
	out := NewOutcome(before, after)

	st := sess.loop
	st.lastAction = &a
	st.lastOutcome = &out

	// No-op fill arms the recovery ladder; anything that worked disarms it.
	if a.IsFill() && actErr == nil && !out.StateChanged {
		if st.recoveryRegion != a.RegionID {
			st.recoveryRegion = a.RegionID
			st.recoveryStage = 0
		}
	} else if out.StateChanged {
		st.recoveryStage = 0
		st.recoveryRegion = ""
	}

	verifyMsg := Verify(a, out, actErr)
	errStr := ""
	if actErr != nil && !contextDestroyed(actErr) {
		errStr = actErr.Error()
	}

	if err := l.recorder.RecordStep(ctx, store.StepRecord{
		SessionID:   sess.ID,
		StepNumber:  stepNum,
		Phase:       string(PhaseAct),
		ActionType:  string(a.Type),
		ActionData:  a.Data(),
		Observation: verifyMsg,
		Error:       errStr,
	}); err != nil {
		l.logger.Warn().Err(err).Msg("record step failed")
	}

	l.screenshot(ctx, sess, stepNum, verifyMsg, regions)
	l.emitter.Log(sess.ID, stepNum, PhaseVerify, verifyMsg, errStr)
}

// recoveryAction returns the next rung of the no-op fill ladder, or an
// ASK_USER pause once the ladder is exhausted. The second rung prefers a
// visible search/submit button over a blind page-level Enter.
func (l *Loop) recoveryAction(st *loopState, regions []scanner.Region) (*Action, *Action) {
	if st.recoveryRegion == "" {
		return nil, nil
	}
	st.recoveryStage++
	switch st.recoveryStage {
	case 1:
		return &Action{Type: ActionKeyPress, Key: "Enter", RegionID: st.recoveryRegion, Description: "submit stuck input"}, nil
	case 2:
		if id := findSubmitRegion(regions); id != "" {
			return &Action{Type: ActionDomClick, RegionID: id, Description: "submit via button"}, nil
		}
		return &Action{Type: ActionKeyPress, Key: "Enter", Description: "page-level submit"}, nil
	default:
		st.recoveryRegion = ""
		st.recoveryStage = 0
		return nil, &Action{
			Type:    ActionAskUser,
			Message: "Typed text is not registering on this page. Please complete this input in the browser, then resume.",
		}
	}
}

func (l *Loop) recordTerminal(ctx context.Context, sess *Session, stepNum int, a Action) {
	msg := a.Reason
	if msg == "" {
		msg = a.Message
	}
	if err := l.recorder.RecordStep(ctx, store.StepRecord{
		SessionID:   sess.ID,
		StepNumber:  stepNum,
		Phase:       string(PhaseDecide),
		ActionType:  string(a.Type),
		ActionData:  a.Data(),
		Observation: msg,
	}); err != nil {
		l.logger.Warn().Err(err).Msg("record terminal step failed")
	}
}

// scrollStatus combines the semantic visibility check with geometry-based
// bottom detection. A page that does not scroll yet is never declared done:
// SPA content may still be rendering, so only the scroll budget bounds its
// retries. A scrollable page is at the bottom when geometry stopped moving
// since the previous scroll, or when the viewport reaches the page end.
func (l *Loop) scrollStatus(ctx context.Context, sess *Session, step *PlanStep, pageText string, st *loopState) (ScrollStatus, scanner.Geometry) {
	status := ScrollStatus{ScrollCount: st.scrollCount, ContentVisible: true, BottomReached: true}
	geo, err := sess.surface.ScrollGeometry(ctx)
	if err != nil {
		return status, geo
	}
	switch {
	case geo.ScrollHeight <= geo.ViewportHeight:
		status.BottomReached = false
	case st.lastGeo != nil && geo.ScrollY == st.lastGeo.ScrollY && geo.ScrollHeight == st.lastGeo.ScrollHeight:
		status.BottomReached = true
	default:
		status.BottomReached = geo.ScrollY+geo.ViewportHeight >= geo.ScrollHeight-5
	}
	if st.scrollCount >= l.maxScrolls {
		return status, geo
	}
	status.ContentVisible = l.visibility.ContentVisible(ctx, step.Title+": "+step.Description, pageText)
	return status, geo
}

var submitLabelKeywords = []string{"search", "submit", "find"}

// findSubmitRegion picks a button-like region whose label suggests it
// submits the nearby input.
func findSubmitRegion(regions []scanner.Region) string {
	for _, r := range regions {
		if r.Role != "button" && r.Role != "other" {
			continue
		}
		label := strings.ToLower(r.Label)
		if label == "go" {
			return r.ID
		}
		for _, kw := range submitLabelKeywords {
			if strings.Contains(label, kw) {
				return r.ID
			}
		}
	}
	return ""
}

func (l *Loop) captureState(ctx context.Context, sess *Session, knownText string) PageState {
	text := knownText
	if text == "" {
		text = sess.surface.PageText(ctx, 1000)
	}
	return PageState{
		URL:   sess.surface.URL(),
		Title: sess.surface.Title(ctx),
		Text:  NormalizeText(text),
	}
}

func (l *Loop) settle(ctx context.Context, sess *Session) {
	if sess.browser != nil {
		sess.browser.WaitStable(ctx)
		return
	}
	select {
	case <-time.After(50 * time.Millisecond):
	case <-ctx.Done():
	}
}

func (l *Loop) screenshot(ctx context.Context, sess *Session, stepNum int, observation string, regions []scanner.Region) {
	if sess.browser == nil || l.shots == nil {
		return
	}
	png, err := sess.browser.Screenshot(ctx)
	if err != nil {
		l.logger.Warn().Err(err).Msg("screenshot failed")
		return
	}
	path, err := l.shots.SaveScreenshot(sess.ID, stepNum, png)
	if err != nil {
		l.logger.Warn().Err(err).Msg("screenshot save failed")
		return
	}
	if err := l.recorder.RecordArtifact(ctx, sess.ID, stepNum, path, "screenshot"); err != nil {
		l.logger.Warn().Err(err).Msg("record artifact failed")
	}
	l.emitter.Screenshot(sess.ID, stepNum, path, observation, regions)
}
