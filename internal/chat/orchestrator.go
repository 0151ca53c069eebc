// Package chat drives one user turn through retrieval, generation, and
// grounding validation, with in-memory session bookkeeping.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kjellm/anchor/internal/grounding"
	"github.com/kjellm/anchor/internal/retrieval"
)

// ErrInvalidSession indicates the supplied session id is not a UUID.
var ErrInvalidSession = errors.New("invalid session id")

// State is the turn state machine position.
type State string

const (
	StateReceived          State = "RECEIVED"
	StateRetrieving        State = "RETRIEVING"
	StateGenerating        State = "GENERATING"
	StateValidating        State = "VALIDATING"
	StateResponded         State = "RESPONDED"
	StateFallbackResponded State = "FALLBACK_RESPONDED"
)

// Retriever is the slice of the retrieval engine the orchestrator consumes.
type Retriever interface {
	Retrieve(ctx context.Context, namespace, query string, k int) ([]retrieval.Citation, error)
}

// Generator is the LLM service behind a narrow interface: the orchestrator
// only controls what goes into the prompt and validates what comes out.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Validator gates draft answers.
type Validator interface {
	Validate(query, draft string, citations []retrieval.Citation) grounding.Result
}

// Timeouts bound each external call in a turn.
type Timeouts struct {
	Retrieve time.Duration
	Generate time.Duration
}

// TurnRequest is one incoming user message.
type TurnRequest struct {
	SessionID string
	Namespace string
	Message   string
	K         int
}

// TurnResponse is the validated outcome returned to the caller.
type TurnResponse struct {
	Answer          string               `json:"answer"`
	Citations       []retrieval.Citation `json:"citations"`
	Grounded        bool                 `json:"grounded"`
	SessionID       string               `json:"sessionId"`
	ModelIdentifier string               `json:"modelIdentifier"`
	Verdict         grounding.Verdict    `json:"verdict"`
	State           State                `json:"-"`
}

// Orchestrator ties retrieval, generation, and validation together for one
// user turn. It owns session state; no other component mutates it.
type Orchestrator struct {
	retriever Retriever
	generator Generator
	validator Validator
	sessions  *Sessions
	timeouts  Timeouts
	modelID   string
	logger    *slog.Logger
}

// NewOrchestrator creates a chat orchestrator.
func NewOrchestrator(r Retriever, g Generator, v Validator, sessions *Sessions, timeouts Timeouts, modelID string, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if sessions == nil {
		sessions = NewSessions(0)
	}
	return &Orchestrator{
		retriever: r,
		generator: g,
		validator: v,
		sessions:  sessions,
		timeouts:  timeouts,
		modelID:   modelID,
		logger:    logger,
	}
}

// Respond processes one user turn:
// RECEIVED → RETRIEVING → GENERATING → VALIDATING → RESPONDED, with
// FALLBACK_RESPONDED reachable from GENERATING (failure/timeout) and from
// VALIDATING (verdict REFUSE). Turns within a session run strictly in
// arrival order; turns across sessions run fully concurrently.
func (o *Orchestrator) Respond(ctx context.Context, req TurnRequest) (TurnResponse, error) {
	sessionID, err := o.resolveSessionID(req.SessionID)
	if err != nil {
		return TurnResponse{}, err
	}

	session := o.sessions.GetOrCreate(sessionID)
	session.lock()
	defer session.unlock()

	resp := TurnResponse{
		SessionID:       sessionID.String(),
		ModelIdentifier: o.modelID,
	}

	// RETRIEVING. A timeout or transient error degrades to an empty citation
	// set: "no context" is a valid input to the validator, not a turn abort.
	// Consistency errors (embedder model or dimension drift) abort the turn
	// instead; answering from a misconfigured index would be worse than
	// failing.
	citations, err := o.retrieve(ctx, req)
	if err != nil {
		o.logger.Error("retrieval consistency error, aborting turn", "error", err)
		return TurnResponse{}, err
	}
	resp.Citations = citations

	// GENERATING. The LLM is asked even with zero citations, instructed to
	// use only the supplied (possibly empty) context. Generation is never
	// blindly retried; a failure falls straight through to the fallback.
	history := session.recent(3)
	draft, genErr := o.generate(ctx, buildPrompt(history, citations, req.Message))
	if genErr != nil {
		o.logger.Warn("generation failed, responding with fallback", "error", genErr)
		resp.Answer = FallbackMessage
		resp.Grounded = false
		resp.Verdict = grounding.VerdictRefuse
		resp.State = StateFallbackResponded
		o.record(session, req.Message, resp)
		return resp, nil
	}

	// VALIDATING.
	verdict := o.validator.Validate(req.Message, draft, citations)
	resp.Verdict = verdict.Verdict

	switch verdict.Verdict {
	case grounding.VerdictAllow:
		resp.Answer = draft
		resp.Grounded = true
		resp.State = StateResponded
	case grounding.VerdictSoften:
		resp.Answer = hedgePrefix + draft
		resp.Grounded = true
		resp.State = StateResponded
	default: // REFUSE
		resp.Answer = FallbackMessage
		resp.Grounded = false
		resp.State = StateFallbackResponded
	}

	o.record(session, req.Message, resp)
	return resp, nil
}

func (o *Orchestrator) resolveSessionID(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.New(), nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.Join(ErrInvalidSession, err)
	}
	return id, nil
}

func (o *Orchestrator) retrieve(ctx context.Context, req TurnRequest) ([]retrieval.Citation, error) {
	rctx := ctx
	if o.timeouts.Retrieve > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, o.timeouts.Retrieve)
		defer cancel()
	}

	citations, err := o.retriever.Retrieve(rctx, req.Namespace, req.Message, req.K)
	if err != nil {
		// Model and dimension mismatches are operator-level configuration
		// problems, not per-turn noise. They are surfaced, never degraded.
		if errors.Is(err, retrieval.ErrDimensionMismatch) || errors.Is(err, retrieval.ErrModelMismatch) {
			return nil, err
		}
		o.logger.Warn("retrieval failed, continuing with empty context", "error", err)
		return nil, nil
	}
	return citations, nil
}

func (o *Orchestrator) generate(ctx context.Context, prompt string) (string, error) {
	gctx := ctx
	if o.timeouts.Generate > 0 {
		var cancel context.CancelFunc
		gctx, cancel = context.WithTimeout(ctx, o.timeouts.Generate)
		defer cancel()
	}
	return o.generator.Generate(gctx, prompt)
}

func (o *Orchestrator) record(session *Session, message string, resp TurnResponse) {
	session.append(TurnRecord{
		UserMessage: message,
		Answer:      resp.Answer,
		Grounded:    resp.Grounded,
		Citations:   resp.Citations,
		At:          time.Now(),
	})
}
