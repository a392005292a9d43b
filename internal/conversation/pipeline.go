package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/brightline-ai/concierge/internal/clinic"
	"github.com/brightline-ai/concierge/internal/narrowing"
	"github.com/brightline-ai/concierge/internal/observability/metrics"
	"github.com/brightline-ai/concierge/internal/whatsapp"
	"github.com/brightline-ai/concierge/pkg/logging"
)

// Step is one stage of the turn pipeline. Execute returns false to stop the
// turn after this step (the step has already produced whatever the user
// should see); an error aborts the turn and triggers the fallback reply.
type Step interface {
	Name() string
	Execute(ctx context.Context, tc *TurnContext) (bool, error)
}

// Pipeline step names, also the keys under which per-step latencies are
// recorded on the turn.
const (
	StepSessionManagement     = "session_management"
	StepControlModeGate       = "control_mode_gate"
	StepContextHydration      = "context_hydration"
	StepEscalationCheck       = "escalation_check"
	StepRouting               = "routing"
	StepConstraintEnforcement = "constraint_enforcement"
	StepNarrowing             = "narrowing"
	StepLangGraphExecution    = "langgraph_execution"
	StepLLMGeneration         = "llm_generation"
	StepPostProcessing        = "post_processing"
)

// InstanceResolver maps a WhatsApp instance name to the owning clinic.
// *clinic.Resolver satisfies it.
type InstanceResolver interface {
	ClinicIDForInstance(ctx context.Context, instance string) (string, error)
}

// Outbound enqueues replies onto the per-instance egress stream.
// *whatsapp.Enqueuer satisfies it.
type Outbound interface {
	Enqueue(ctx context.Context, instance string, msg whatsapp.OutboundMessage) (bool, error)
}

// EscalationNotifier fans an escalation out to the clinic's operators.
type EscalationNotifier interface {
	EscalationAlert(ctx context.Context, profile *clinic.Profile, sessionID, userID, reason, preview string) error
}

// SummaryReader serves the most recent closed-session summary for a user.
type SummaryReader interface {
	LatestSummary(ctx context.Context, userID, clinicID string) (string, error)
}

// MemoryWarmer is the asynchronous memory writer. Both methods must never
// block the turn.
type MemoryWarmer interface {
	Warm(userID, clinicID string)
	RecordTurn(sessionID, userID, clinicID, userText, assistantText string)
}

// LaneRequest asks the external graph orchestrator to run one turn.
type LaneRequest struct {
	Instance  string         `json:"instance"`
	ClinicID  string         `json:"clinic_id"`
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id"`
	Lane      string         `json:"lane"`
	Message   string         `json:"message"`
	Language  string         `json:"language"`
	History   []ChatMessage  `json:"history,omitempty"`
	State     map[string]any `json:"state,omitempty"`
}

// LaneResponse is the orchestrator's answer. Handled=false means the graph
// declined the turn and the local generation path should run.
type LaneResponse struct {
	Reply   string `json:"reply"`
	Handled bool   `json:"handled"`
}

// LaneRunner is the client for the external graph orchestrator.
type LaneRunner interface {
	Run(ctx context.Context, req LaneRequest) (LaneResponse, error)
}

// Config tunes the pipeline. Zero values are replaced by defaults.
type Config struct {
	LLMModel        string
	FallbackModel   string
	LLMMaxTokens    int32
	LLMTemperature  float32
	LLMTopP         float32
	LLMTimeout      time.Duration
	HistoryLimit    int
	MaxToolCalls    int
	FastPathEnabled bool

	// LogFailFast promotes transcript write failures to turn errors.
	// Off in production: losing one message row must never cost a reply.
	LogFailFast bool
}

func (c Config) withDefaults() Config {
	if c.LLMMaxTokens <= 0 {
		c.LLMMaxTokens = 1024
	}
	if c.LLMTemperature == 0 {
		c.LLMTemperature = 0.4
	}
	if c.LLMTimeout <= 0 {
		c.LLMTimeout = 20 * time.Second
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 12
	}
	if c.MaxToolCalls <= 0 {
		c.MaxToolCalls = 5
	}
	return c
}

// Deps bundles everything the pipeline steps call out to. Store, Resolver,
// Profiles, and Outbound are required; the rest degrade to no-ops when nil.
type Deps struct {
	Store        Store
	Locker       SessionLocker
	Resolver     InstanceResolver
	Profiles     clinic.ProfileSource
	Narrower     *narrowing.Service
	LLM          LLMClient
	Lanes        LaneRunner
	Outbound     Outbound
	Notifier     EscalationNotifier
	Summaries    SummaryReader
	Memory       MemoryWarmer
	Availability AvailabilityChecker

	Logger          *logging.Logger
	PipelineMetrics *metrics.PipelineMetrics
	LLMMetrics      *metrics.LLMMetrics
}

// Pipeline executes the fixed step sequence for each inbound turn.
type Pipeline struct {
	deps   Deps
	cfg    Config
	steps  []Step
	logger *logging.Logger
	now    func() time.Time
}

func NewPipeline(deps Deps, cfg Config) *Pipeline {
	if deps.Store == nil {
		panic("conversation: nil store")
	}
	if deps.Resolver == nil {
		panic("conversation: nil resolver")
	}
	if deps.Profiles == nil {
		panic("conversation: nil profile source")
	}
	if deps.Outbound == nil {
		panic("conversation: nil outbound")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	p := &Pipeline{
		deps:   deps,
		cfg:    cfg.withDefaults(),
		logger: deps.Logger.With("component", "conversation.pipeline"),
		now:    time.Now,
	}
	p.steps = []Step{
		&sessionStep{p},
		&controlGateStep{p},
		&hydrationStep{p},
		&escalationStep{p},
		&routingStep{p},
		&constraintStep{p},
		&narrowingStep{p},
		&langGraphStep{p},
		&generationStep{p},
		&postProcessStep{p},
	}
	return p
}

// Process runs one inbound turn through the pipeline. The returned result
// is always usable; the error reports the failing step when one aborted.
func (p *Pipeline) Process(ctx context.Context, turn InboundTurn) (*TurnResult, error) {
	tc := newTurnContext(turn, p.now())
	start := p.now()

	defer func() {
		if tc.unlock != nil {
			tc.unlock()
		}
	}()

	var failed error
	for _, step := range p.steps {
		// Captured before the step runs: the failure report must show what
		// the step saw, not whatever half-applied state it left behind.
		snapshot := tc.Snapshot()
		stepStart := time.Now()
		cont, err := step.Execute(ctx, tc)
		elapsed := time.Since(stepStart)
		tc.recordTiming(step.Name(), elapsed)
		if p.deps.PipelineMetrics != nil {
			p.deps.PipelineMetrics.ObserveStep(step.Name(), elapsed)
		}
		if err != nil {
			if p.deps.PipelineMetrics != nil {
				p.deps.PipelineMetrics.ObserveStepError(step.Name())
			}
			p.logger.Error("pipeline step failed",
				"step", step.Name(), "error", err, "snapshot", snapshot)
			p.failTurn(ctx, tc, step.Name(), err)
			failed = fmt.Errorf("step %s: %w", step.Name(), err)
			break
		}
		if !cont {
			if p.deps.PipelineMetrics != nil {
				p.deps.PipelineMetrics.ObserveEarlyStop(step.Name())
			}
			break
		}
	}

	tc.recordTiming("_total", time.Since(start))
	return tc.result(), failed
}

// Transcript writes get a deadline of their own so a slow insert cannot
// hold the reply hostage.
const messageLogTimeout = 1500 * time.Millisecond

// logMessage records one transcript row without blocking the reply path:
// a failed or slow write logs a warning and the turn moves on. Only
// LogFailFast (tests asserting persistence) turns the loss into an error.
func (p *Pipeline) logMessage(ctx context.Context, sessionID, role, content string, meta map[string]any) error {
	logCtx, cancel := context.WithTimeout(ctx, messageLogTimeout)
	defer cancel()
	err := p.deps.Store.StoreMessage(logCtx, sessionID, role, content, meta)
	if err == nil {
		return nil
	}
	if p.cfg.LogFailFast {
		return fmt.Errorf("store %s message: %w", role, err)
	}
	p.logger.Warn("transcript write failed, continuing turn",
		"session_id", sessionID, "role", role, "error", err)
	return nil
}

// failTurn sends the localized fallback so the user is never left hanging,
// and stamps the turn metadata with what broke.
func (p *Pipeline) failTurn(ctx context.Context, tc *TurnContext, stepName string, cause error) {
	tc.SetMeta("error", cause.Error())
	tc.SetMeta("failed_step", stepName)

	lang := tc.replyLanguage()
	reply := pickTemplate(fallbackGenericTemplates, lang)
	if tc.Instruction != nil && len(tc.Instruction.EligibleDoctors) > 0 {
		names := make([]string, 0, len(tc.Instruction.EligibleDoctors))
		for _, d := range tc.Instruction.EligibleDoctors {
			names = append(names, d.Name)
		}
		reply = fmt.Sprintf(pickTemplate(fallbackDoctorsTemplates, lang), strings.Join(names, ", "))
	}
	tc.Reply = reply
	tc.ReplySource = "fallback"

	if tc.Session != nil {
		if err := p.logMessage(ctx, tc.Session.ID, ChatRoleAssistant, reply, map[string]any{
			"fallback":    true,
			"failed_step": stepName,
		}); err != nil {
			p.logger.Warn("store fallback message", "session_id", tc.Session.ID, "error", err)
		}
	}
	if _, err := p.enqueueReply(ctx, tc, reply); err != nil {
		p.logger.Error("enqueue fallback reply", "instance", tc.Turn.Instance, "error", err)
	}
}

// enqueueReply pushes one reply onto the egress stream. The message id is
// derived from the job id so a redelivered job cannot double-send.
func (p *Pipeline) enqueueReply(ctx context.Context, tc *TurnContext, text string) (bool, error) {
	if tc.SkipEgress || strings.TrimSpace(text) == "" {
		return false, nil
	}
	msg := whatsapp.OutboundMessage{
		MessageID: tc.Turn.JobID + ":reply",
		To:        tc.Turn.From,
		Text:      text,
		Metadata:  map[string]string{"clinic_id": tc.ClinicID},
	}
	if tc.Session != nil {
		msg.Metadata["session_id"] = tc.Session.ID
	}
	return p.deps.Outbound.Enqueue(ctx, tc.Turn.Instance, msg)
}

// replyLanguage picks the language for canned text: the detected language
// first, then the session's, then the clinic default, then English.
func (tc *TurnContext) replyLanguage() string {
	if tc.ReplyLanguage != "" {
		return tc.ReplyLanguage
	}
	if tc.Language != "" {
		return tc.Language
	}
	if tc.Session != nil && tc.Session.SessionLanguage != "" {
		return tc.Session.SessionLanguage
	}
	if tc.Profile != nil && tc.Profile.DefaultLanguage != "" {
		return normalizeLanguage(tc.Profile.DefaultLanguage)
	}
	return LangEN
}
