package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/semaphore"

	"wildfiregpt/internal/conversation"
	"wildfiregpt/internal/logging"
	"wildfiregpt/internal/perception"
	"wildfiregpt/internal/policy"
	"wildfiregpt/internal/stage"
	"wildfiregpt/internal/store"
	"wildfiregpt/internal/tools"
)

// ErrTurnInFlight is returned when a user message arrives while the previous
// turn is still being processed. The session handles one turn at a time.
var ErrTurnInFlight = errors.New("a turn is already being processed")

// ErrNotStarted is returned when a message arrives before Start.
var ErrNotStarted = errors.New("session has not been started")

// planEntryPrompt is appended as a user turn when plan formation begins, so
// the model lays out its plan under the new instructions. Mirrors the
// original stage handoff.
const planEntryPrompt = "Explain to me what your plan is and ask me if I have any questions."

// defaultCaution is shown when the decision policy exhausts its retries and
// the stage configuration provides no caution message of its own.
const defaultCaution = "I'm having trouble deciding how to proceed. Could you rephrase your request or tell me more about what you need?"

// maxToolRounds bounds consecutive tool dispatches within one turn so a
// model stuck in a tool loop cannot spin forever.
const maxToolRounds = 8

// TurnResult is what one processed turn surfaces to the front end.
type TurnResult struct {
	Text           string
	Visualizations []tools.Artifact
	Stage          stage.Name
}

// Orchestrator drives the session: each user message flows through the
// decision policy, a streamed generation run, at most one tool dispatch per
// assistant turn, and any stage transition the dispatched tool signals.
type Orchestrator struct {
	runner      *perception.Runner
	policy      *policy.Policy
	controller  *stage.Controller
	threads     *conversation.Store
	transcripts *store.TranscriptStore

	state  *State
	sem    *semaphore.Weighted
	thread *conversation.Thread

	// synced tracks how many turns of each thread have been mirrored to the
	// transcript store.
	synced map[string]int
}

// NewOrchestrator wires the session components together. transcripts may be
// nil; persistence is then skipped entirely.
func NewOrchestrator(runner *perception.Runner, pol *policy.Policy, controller *stage.Controller, threads *conversation.Store, transcripts *store.TranscriptStore) *Orchestrator {
	return &Orchestrator{
		runner:      runner,
		policy:      pol,
		controller:  controller,
		threads:     threads,
		transcripts: transcripts,
		state:       NewState(),
		sem:         semaphore.NewWeighted(1),
		synced:      make(map[string]int),
	}
}

// State returns the session state for read access by the front end.
func (o *Orchestrator) State() *State {
	return o.state
}

// SetOnDelta installs the incremental text callback for streamed rendering.
func (o *Orchestrator) SetOnDelta(f func(delta string)) {
	o.runner.OnDelta = f
}

// Start activates the first stage on a fresh thread and returns its opening
// message.
func (o *Orchestrator) Start(ctx context.Context) (TurnResult, error) {
	if !o.sem.TryAcquire(1) {
		return TurnResult{}, ErrTurnInFlight
	}
	defer o.sem.Release(1)

	s, err := o.controller.Activate(stage.ProfileCollection, stage.InitArgs{})
	if err != nil {
		return TurnResult{}, err
	}
	o.thread = o.threads.Create()
	o.state.setThread(o.thread.ID())
	o.state.setStage(s.Name)
	o.persistState()

	text := s.Config.InitMessage
	if text != "" {
		o.thread.AppendAssistant(text, nil)
		o.sync()
	}
	logging.Session("Session %s started on thread %s", o.state.ID(), o.thread.ID())
	return TurnResult{Text: text, Stage: s.Name}, nil
}

// HandleUserMessage processes one user turn end to end and returns the
// assistant's full response for the turn.
func (o *Orchestrator) HandleUserMessage(ctx context.Context, message string) (TurnResult, error) {
	if !o.sem.TryAcquire(1) {
		return TurnResult{}, ErrTurnInFlight
	}
	defer o.sem.Release(1)

	cur := o.controller.Current()
	if cur == nil || o.thread == nil {
		return TurnResult{}, ErrNotStarted
	}

	timer := logging.StartTimer(logging.CategorySession, "turn")
	defer timer.Stop()

	o.thread.AppendUser(message)
	o.sync()

	extra, cautious, err := o.decide(ctx, cur, message)
	if errors.Is(err, policy.ErrPolicyExhausted) {
		// The decision layer could not settle on an action; surface the
		// stage's caution message instead of failing the turn.
		caution := cur.Config.CautionMessage
		if caution == "" {
			caution = defaultCaution
		}
		logging.Session("Decision policy exhausted, sending caution message")
		o.thread.AppendAssistant(caution, nil)
		o.sync()
		return TurnResult{Text: caution, Stage: cur.Name}, nil
	}
	if err != nil {
		return TurnResult{}, err
	}

	text, visuals, err := o.generate(ctx, extra)
	if err != nil {
		return TurnResult{}, err
	}
	if cautious && cur.Config.CautionMessage != "" {
		// Answering without data tools: lead with the stage's caution so the
		// client knows this response is not grounded in a dataset.
		text = cur.Config.CautionMessage + "\n\n" + text
	}

	o.state.pushVisualizations(visuals)
	o.persistState()
	return TurnResult{Text: text, Visualizations: visuals, Stage: o.controller.Current().Name}, nil
}

// decide runs the per-turn decision point when the stage calls for it. The
// result is extra instruction text for the generation run; it never touches
// the tool registry itself. cautious reports that the policy settled on
// answering without any data tool.
func (o *Orchestrator) decide(ctx context.Context, cur *stage.Stage, message string) (extra string, cautious bool, err error) {
	cfg := cur.Config
	if cfg.QueryAssessmentInstructions == "" {
		return "", false, nil
	}

	summary, err := o.policy.Summarize(ctx, o.thread)
	if err != nil {
		return "", false, err
	}
	view := o.state.Snapshot()

	intent, err := o.policy.ClassifyIntent(ctx, view.Plan, summary, message, cfg.QueryAssessmentInstructions)
	if err != nil {
		return "", false, err
	}

	choice, err := o.policy.SelectTool(ctx, view.Plan, summary, intent, cfg.TinyPlanInstructions, cur.Registry.Names())
	if err != nil {
		return "", false, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\nFor this turn: %s", intent)
	if choice == policy.NoToolNeeded {
		b.WriteString(" Do not call any function.")
		cautious = true
	} else {
		fmt.Fprintf(&b, " Use the %s function.", choice)
	}
	return b.String(), cautious, nil
}

// generate drives a generation run to completion, dispatching at most one
// tool call per suspension and following any stage transition a tool
// signals.
func (o *Orchestrator) generate(ctx context.Context, extra string) (string, []tools.Artifact, error) {
	var parts []string
	var visuals []tools.Artifact
	pendingPlanEntry := false

	cur := o.controller.Current()
	res, err := o.runner.Run(ctx, o.thread, cur.Instructions+extra, cur.Registry.Definitions())
	if err != nil {
		return "", nil, err
	}

	for rounds := 0; len(res.PendingToolCalls) > 0; rounds++ {
		if rounds >= maxToolRounds {
			return "", nil, fmt.Errorf("turn exceeded %d tool dispatches", maxToolRounds)
		}

		// Only the first requested call is honored.
		o.thread.AppendAssistant(res.Text, res.PendingToolCalls[:1])
		if res.Text != "" {
			parts = append(parts, res.Text)
		}
		o.sync()
		runID := res.RunID

		dispatcher := tools.NewDispatcher(cur.Registry, cur.Config.FallbackText)
		outcome, _ := dispatcher.DispatchFirst(ctx, res.PendingToolCalls)

		if outcome.Kind == tools.OutcomeText {
			o.thread.AppendTool(outcome.Call.ID, outcome.Text)
			o.sync()
			visuals = append(visuals, outcome.Visualizations...)
			res, err = o.runner.ResumeAfterTools(ctx, runID, []perception.ToolOutput{{CallID: outcome.Call.ID, Output: outcome.Text}})
			if err != nil {
				return "", nil, err
			}
			continue
		}

		// Stage transition.
		t := outcome.Transition
		args := stage.InitArgs{Checklist: t.Args["checklist"], Plan: t.Args["plan"]}
		next, err := o.controller.Activate(stage.Name(t.Stage), args)
		if err != nil {
			return "", nil, err
		}
		o.state.applyArgs(args)
		o.state.setStage(next.Name)
		o.persistState()

		if t.NewThread {
			// The paused run and the old thread are abandoned; the next
			// stage opens fresh.
			o.thread = o.threads.Create()
			o.state.setThread(o.thread.ID())
			cur = next
			if next.Config.InitMessage != "" {
				o.thread.AppendAssistant(next.Config.InitMessage, nil)
				o.sync()
				parts = append(parts, next.Config.InitMessage)
				res = perception.RunResult{}
				continue
			}
			res, err = o.runner.Run(ctx, o.thread, next.Instructions, next.Registry.Definitions())
			if err != nil {
				return "", nil, err
			}
			continue
		}

		// Same-thread transition: the pending call still wants an answer.
		// The follow-up text stands in as the tool output and the run
		// continues under the old instructions until it finishes speaking.
		followUp := t.FollowUp
		if followUp == "" && next.Name == stage.PlanFormation {
			followUp = next.Config.DatasetDecision + "\n" + args.Checklist
			pendingPlanEntry = true
		}
		o.thread.AppendTool(outcome.Call.ID, followUp)
		o.sync()
		cur = next
		res, err = o.runner.ResumeAfterTools(ctx, runID, []perception.ToolOutput{{CallID: outcome.Call.ID, Output: followUp}})
		if err != nil {
			return "", nil, err
		}
	}

	if res.Text != "" {
		o.thread.AppendAssistant(res.Text, nil)
		o.sync()
		parts = append(parts, res.Text)
	}

	if pendingPlanEntry {
		// Prompt the model to lay the plan out under the new stage's
		// instructions before handing the turn back.
		o.thread.AppendUser(planEntryPrompt)
		o.sync()
		text, vis, err := o.generate(ctx, "")
		if err != nil {
			return "", nil, err
		}
		if text != "" {
			parts = append(parts, text)
		}
		visuals = append(visuals, vis...)
	}

	return strings.Join(parts, "\n\n"), visuals, nil
}

// EditPreviousStage is the explicit edit action: the session returns to the
// prior stage with downstream state cleared.
func (o *Orchestrator) EditPreviousStage(ctx context.Context) (TurnResult, error) {
	if !o.sem.TryAcquire(1) {
		return TurnResult{}, ErrTurnInFlight
	}
	defer o.sem.Release(1)

	s, err := o.controller.GoBack()
	if err != nil {
		return TurnResult{}, err
	}
	o.state.applyArgs(s.Args)
	o.state.setStage(s.Name)
	o.persistState()

	text := s.Config.InitMessage
	if text != "" {
		o.thread.AppendAssistant(text, nil)
		o.sync()
	}
	return TurnResult{Text: text, Stage: s.Name}, nil
}

// AddFeedback annotates a turn on the current thread, both in memory and in
// the transcript mirror.
func (o *Orchestrator) AddFeedback(turnIndex int, note string) error {
	view := o.state.Snapshot()
	if view.ThreadID == "" {
		return ErrNotStarted
	}
	if err := o.threads.AddFeedback(view.ThreadID, turnIndex, note); err != nil {
		return err
	}
	if o.transcripts != nil {
		if err := o.transcripts.StoreFeedback(view.ThreadID, turnIndex, note); err != nil {
			logging.Get(logging.CategorySession).Warn("Failed to persist feedback: %v", err)
		}
	}
	return nil
}

// sync mirrors unpersisted turns of the current thread to the transcript
// store. Persistence failures are logged, never surfaced to the turn.
func (o *Orchestrator) sync() {
	if o.transcripts == nil || o.thread == nil {
		return
	}
	threadID := o.thread.ID()
	turns := o.thread.Turns()
	for i := o.synced[threadID]; i < len(turns); i++ {
		if err := o.transcripts.StoreTurn(o.state.ID(), threadID, i, turns[i]); err != nil {
			return
		}
		o.synced[threadID] = i + 1
	}
}

// persistState mirrors the session's accumulated stage state.
func (o *Orchestrator) persistState() {
	if o.transcripts == nil {
		return
	}
	view := o.state.Snapshot()
	if err := o.transcripts.SaveSessionState(view.ID, view.Profile, view.Plan, string(view.Stage)); err != nil {
		logging.Get(logging.CategorySession).Warn("Failed to persist session state: %v", err)
	}
}
