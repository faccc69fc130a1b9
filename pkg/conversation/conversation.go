// Package conversation orchestrates voice turns through the remote pipeline.
//
// A submitted recording becomes an INPUT turn in PROCESSING. The pipeline
// later reports back through callbacks which move the turn forward:
//
//	PROCESSING  -> TRANSCRIBED (transcript received)
//	PROCESSING  -> ERROR       (invocation failed, or failure callback)
//	TRANSCRIBED -> COMPLETED   (response and synthesized audio received)
//	TRANSCRIBED -> ERROR       (response generation failed)
//
// The Orchestrator is the only writer of turn state. Every transition is a
// conditional write against the expected previous status, so callbacks that
// arrive late, twice or out of order are ignored instead of regressing a turn.
// Each applied transition is announced on the conversation and user topics.
//
// Example usage:
//
//	orch, err := conversation.New(conversation.Deps{
//	    Blobs:    blob.NewMemory("http://localhost:8080"),
//	    Invoker:  invoker,
//	    Turns:    turnstore.NewMemory(),
//	    Notifier: notify.NewHub(h, logger),
//	}, conversation.WithResponseFunction("BedrockIntegrationLambda"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	res, err := orch.SubmitAudio(ctx, conversation.SubmitRequest{
//	    UserID:      "user-1",
//	    AudioBase64: audio,
//	})
package conversation

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/timwukp/agentic-ai-agent-voice-to-voice/pkg/blob"
	"github.com/timwukp/agentic-ai-agent-voice-to-voice/pkg/invoke"
	"github.com/timwukp/agentic-ai-agent-voice-to-voice/pkg/metrics"
	"github.com/timwukp/agentic-ai-agent-voice-to-voice/pkg/notify"
	"github.com/timwukp/agentic-ai-agent-voice-to-voice/pkg/protocol"
	"github.com/timwukp/agentic-ai-agent-voice-to-voice/pkg/turn"
	"github.com/timwukp/agentic-ai-agent-voice-to-voice/pkg/turnstore"
)

// Failure reasons recorded on turns.
const (
	ReasonEmptyTranscript   = "empty transcript"
	ReasonInvalidAudio      = "response audio is not valid base64"
	ReasonProcessingFailed  = "processing failed"
	ReasonPipelineTimeout   = "timed out waiting for pipeline"
	ReasonUpstreamTimeout   = "processing function timed out"
	ReasonUpstreamDown      = "processing function unavailable"
	ReasonResponseDispatch  = "response generation unavailable"
	ReasonEmptyUpstreamBody = "processing function returned no result"
)

// Callback names used in logs and metrics.
const (
	callbackTranscription = "transcription"
	callbackResponse      = "response"
	callbackFailure       = "failure"
	callbackExpire        = "expire"
)

// Service is the set of operations the API layer drives.
// *Orchestrator implements it.
type Service interface {
	SubmitAudio(ctx context.Context, req SubmitRequest) (SubmitResult, error)
	RecordTranscription(ctx context.Context, cb protocol.TranscriptionCallback) (bool, error)
	RecordResponse(ctx context.Context, cb protocol.ResponseCallback) (bool, error)
	RecordFailure(ctx context.Context, cb protocol.FailureCallback) (bool, error)
	ListConversationTurns(ctx context.Context, conversationID string) ([]turn.Turn, error)
	ListUserConversations(ctx context.Context, userID string) ([]turn.Summary, error)
	ResolveAudioURL(ctx context.Context, t turn.Turn) (string, error)
	ExpireStale(ctx context.Context, conversationID string, olderThan time.Duration) (int, error)
}

// Deps are the collaborators an Orchestrator needs. Notifier may be nil.
type Deps struct {
	Blobs    blob.Store
	Invoker  invoke.Invoker
	Turns    turnstore.Store
	Notifier notify.Notifier
}

// SubmitRequest is one audio submission.
type SubmitRequest struct {
	UserID         string
	SessionID      string
	ConversationID string
	AudioBase64    string
}

// SubmitResult identifies an accepted submission.
type SubmitResult struct {
	RequestID           string
	ConversationID      string
	Status              turn.Status
	TranscriptionJobRef string
}

// Orchestrator drives turns through the pipeline.
type Orchestrator struct {
	blobs    blob.Store
	invoker  invoke.Invoker
	turns    turnstore.Store
	notifier notify.Notifier

	cfg    *Config
	clock  *turn.Clock
	logger *slog.Logger

	// Conversations that may still hold unfinished turns, from this
	// process's submissions and the store's pending listing. Sweep walks them.
	pending sync.Map
}

var _ Service = (*Orchestrator)(nil)

// New creates an Orchestrator.
func New(deps Deps, opts ...Option) (*Orchestrator, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch {
	case deps.Blobs == nil:
		return nil, fmt.Errorf("%w: blob store", ErrMissingDependency)
	case deps.Invoker == nil:
		return nil, fmt.Errorf("%w: invoker", ErrMissingDependency)
	case deps.Turns == nil:
		return nil, fmt.Errorf("%w: turn store", ErrMissingDependency)
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}

	clock := cfg.Clock
	if clock == nil {
		clock = turn.NewClock(nil)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		blobs:    deps.Blobs,
		invoker:  deps.Invoker,
		turns:    deps.Turns,
		notifier: deps.Notifier,
		cfg:      cfg,
		clock:    clock,
		logger:   logger.With("component", "conversation.Orchestrator"),
	}, nil
}

// SubmitAudio stores the recording, persists a PROCESSING input turn and
// starts the processing function. Invalid input writes nothing. A failed
// invocation leaves the turn in ERROR and returns an *UpstreamError; the
// result still carries the identifiers in that case.
func (o *Orchestrator) SubmitAudio(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	if req.UserID == "" {
		metrics.RecordSubmission("invalid")
		return SubmitResult{}, fmt.Errorf("%w: userId is required", ErrInvalidInput)
	}
	if req.AudioBase64 == "" {
		metrics.RecordSubmission("invalid")
		return SubmitResult{}, fmt.Errorf("%w: audioData is required", ErrInvalidInput)
	}
	audio, err := decodeAudio(req.AudioBase64)
	if err != nil || len(audio) == 0 {
		metrics.RecordSubmission("invalid")
		return SubmitResult{}, ErrInvalidAudioEncoding
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = o.cfg.NewID()
	}
	requestID := o.cfg.NewID()
	result := SubmitResult{RequestID: requestID, ConversationID: conversationID, Status: turn.StatusProcessing}
	logger := o.logger.With("conversation_id", conversationID, "request_id", requestID)

	key := InputAudioKey(req.UserID, conversationID, requestID)
	if err := o.blobs.Put(ctx, key, audio, o.cfg.InputContentType); err != nil {
		metrics.RecordSubmission("error")
		return SubmitResult{}, fmt.Errorf("conversation: failed to store audio: %w", err)
	}

	in := turn.NewInput(conversationID, req.UserID, req.SessionID, requestID, key, o.clock.Next())
	if err := o.turns.Create(ctx, in); err != nil {
		metrics.RecordSubmission("error")
		return SubmitResult{}, fmt.Errorf("conversation: failed to persist turn: %w", err)
	}
	o.pending.Store(conversationID, struct{}{})
	logger.Info("audio submitted", "user_id", req.UserID, "bytes", len(audio))

	payload := protocol.NewSubmitAudio(conversationID, req.UserID, req.SessionID, requestID, key, in.Timestamp)

	ictx, cancel := context.WithTimeout(ctx, o.cfg.InvokeTimeout)
	start := time.Now()
	res, err := o.invoker.Invoke(ictx, o.cfg.ProcessingFunction, payload, invoke.ModeSync)
	cancel()
	elapsed := time.Since(start).Seconds()

	if upErr := classify(res, err); upErr != nil {
		metrics.RecordInvocation(o.cfg.ProcessingFunction, invoke.ModeSync.String(), upErr.Kind.String(), elapsed)
		metrics.RecordSubmission(upErr.Kind.String())
		logger.Warn("processing invocation failed", "kind", upErr.Kind, "status", upErr.StatusCode, "error", upErr)

		// The caller may have gone away; the ERROR write must still land.
		if ferr := o.fail(context.WithoutCancel(ctx), in, upErr.Message); ferr != nil && !errors.Is(ferr, ErrStaleCallback) {
			logger.Error("failed to record invocation failure", "error", ferr)
		}
		result.Status = turn.StatusError
		return result, upErr
	}
	metrics.RecordInvocation(o.cfg.ProcessingFunction, invoke.ModeSync.String(), "ok", elapsed)

	var started protocol.StartResponse
	if err := res.Decode(&started); err != nil {
		logger.Debug("unparseable start response", "error", err)
	}
	if started.TranscriptionJobRef != "" {
		result.TranscriptionJobRef = started.TranscriptionJobRef
		o.recordJobRef(ctx, in, started.TranscriptionJobRef, logger)
	}

	metrics.RecordSubmission("accepted")
	return result, nil
}

// recordJobRef stores the external job handle while the turn is still
// PROCESSING. A callback may already have moved it on; that is fine.
func (o *Orchestrator) recordJobRef(ctx context.Context, in turn.Turn, ref string, logger *slog.Logger) {
	updated := in
	updated.TranscriptionJobRef = ref
	updated.UpdatedAt = o.clock.Now()
	if err := o.turns.Update(ctx, updated, turn.StatusProcessing); err != nil {
		logger.Debug("job ref not recorded", "job_ref", ref, "error", err)
	}
}

// RecordTranscription applies a transcript to a PROCESSING input turn.
// It reports whether the callback changed anything. An empty transcript
// fails the turn. When a response function is configured it is started
// asynchronously.
func (o *Orchestrator) RecordTranscription(ctx context.Context, cb protocol.TranscriptionCallback) (bool, error) {
	logger := o.logger.With("conversation_id", cb.ConversationID, "request_id", cb.RequestID, "callback", callbackTranscription)

	in, err := o.lookup(ctx, cb.ConversationID, cb.RequestID)
	if err != nil {
		return o.settle(err, callbackTranscription, logger)
	}
	if in.Status != turn.StatusProcessing {
		return o.settle(staleStatus(in), callbackTranscription, logger)
	}

	if strings.TrimSpace(cb.Transcript) == "" {
		return o.settle(o.fail(ctx, in, ReasonEmptyTranscript), callbackTranscription, logger)
	}

	next, err := in.Advance(turn.StatusTranscribed, o.clock.Now())
	if err != nil {
		return o.settle(fmt.Errorf("%w: %v", ErrStaleCallback, err), callbackTranscription, logger)
	}
	next.Transcript = cb.Transcript
	if cb.TranscriptionJobRef != "" {
		next.TranscriptionJobRef = cb.TranscriptionJobRef
	}
	if err := o.advance(ctx, in, next); err != nil {
		return o.settle(err, callbackTranscription, logger)
	}

	logger.Info("turn transcribed", "chars", len(next.Transcript))
	o.publish(ctx, next, protocol.NewTranscriptionUpdate(next.ConversationID, next.RequestID, next.Transcript, next.UpdatedAt))

	if o.cfg.ResponseFunction != "" {
		o.dispatchResponse(ctx, next, logger)
	}
	return true, nil
}

// dispatchResponse queues response generation for a TRANSCRIBED turn.
// If the queueing fails the turn moves to ERROR.
func (o *Orchestrator) dispatchResponse(ctx context.Context, t turn.Turn, logger *slog.Logger) {
	payload := protocol.NewGenerateResponse(t.ConversationID, t.UserID, t.RequestID, t.Transcript, t.UpdatedAt)

	ictx, cancel := context.WithTimeout(ctx, o.cfg.InvokeTimeout)
	start := time.Now()
	_, err := o.invoker.Invoke(ictx, o.cfg.ResponseFunction, payload, invoke.ModeAsync)
	cancel()

	outcome := "ok"
	if err != nil {
		outcome = classify(nil, err).Kind.String()
	}
	metrics.RecordInvocation(o.cfg.ResponseFunction, invoke.ModeAsync.String(), outcome, time.Since(start).Seconds())
	if err == nil {
		return
	}

	logger.Warn("response dispatch failed", "function", o.cfg.ResponseFunction, "error", err)
	if ferr := o.fail(context.WithoutCancel(ctx), t, ReasonResponseDispatch); ferr != nil && !errors.Is(ferr, ErrStaleCallback) {
		logger.Error("failed to record dispatch failure", "error", ferr)
	}
}

// RecordResponse stores the synthesized reply for a TRANSCRIBED input turn,
// completes the input and then creates its COMPLETED output turn. Undecodable
// audio fails the turn instead. Store errors are returned so that the
// pipeline can retry; a retry of a completed input whose output turn is
// missing resumes by creating it.
func (o *Orchestrator) RecordResponse(ctx context.Context, cb protocol.ResponseCallback) (bool, error) {
	logger := o.logger.With("conversation_id", cb.ConversationID, "request_id", cb.RequestID, "callback", callbackResponse)

	in, err := o.lookup(ctx, cb.ConversationID, cb.RequestID)
	if err != nil {
		return o.settle(err, callbackResponse, logger)
	}

	resuming := false
	switch in.Status {
	case turn.StatusTranscribed:
	case turn.StatusCompleted:
		_, err := o.turns.Get(ctx, in.ConversationID, in.RequestID+turn.ResponseSuffix)
		if err == nil {
			return o.settle(staleStatus(in), callbackResponse, logger)
		}
		if !turnstore.IsNotFound(err) {
			return false, fmt.Errorf("conversation: failed to load response turn: %w", err)
		}
		resuming = true
	default:
		return o.settle(staleStatus(in), callbackResponse, logger)
	}

	var audio []byte
	if cb.AudioData != "" {
		audio, err = decodeAudio(cb.AudioData)
		if err != nil || len(audio) == 0 {
			if resuming {
				return o.settle(fmt.Errorf("%w: response audio is not valid base64", ErrStaleCallback), callbackResponse, logger)
			}
			return o.settle(o.fail(ctx, in, ReasonInvalidAudio), callbackResponse, logger)
		}
	}

	var key string
	if len(audio) > 0 {
		key = OutputAudioKey(in.UserID, in.ConversationID, in.RequestID)
		if err := o.blobs.Put(ctx, key, audio, o.cfg.OutputContentType); err != nil {
			return false, fmt.Errorf("conversation: failed to store response audio: %w", err)
		}
	}

	// Claim the input first so a concurrent failure or expiry cannot leave
	// an output turn next to an ERROR input.
	done := in
	if !resuming {
		done, err = in.Advance(turn.StatusCompleted, o.clock.Now())
		if err != nil {
			return o.settle(fmt.Errorf("%w: %v", ErrStaleCallback, err), callbackResponse, logger)
		}
		if err := o.advance(ctx, in, done); err != nil {
			return o.settle(err, callbackResponse, logger)
		}
	} else {
		logger.Info("resuming completed turn without response turn")
	}

	out := turn.NewOutput(done, cb.Response, key, o.clock.After(done.Timestamp))
	if err := o.turns.Create(ctx, out); err != nil {
		if errors.Is(err, turnstore.ErrDuplicate) {
			return o.settle(fmt.Errorf("%w: response turn already written", ErrStaleCallback), callbackResponse, logger)
		}
		return false, fmt.Errorf("conversation: failed to persist response turn: %w", err)
	}

	audioURL, err := o.signedURL(ctx, out.AudioRef)
	if err != nil {
		logger.Warn("failed to sign response audio", "key", out.AudioRef, "error", err)
	}

	logger.Info("turn completed", "response_request_id", out.RequestID, "has_audio", out.AudioRef != "")
	o.publish(ctx, done, protocol.NewAIResponse(in.ConversationID, in.RequestID, out.ResponseText, audioURL, out.Timestamp))
	return true, nil
}

// RecordFailure moves a non-terminal input turn to ERROR with the reported
// reason. Terminal or unknown turns are left alone.
func (o *Orchestrator) RecordFailure(ctx context.Context, cb protocol.FailureCallback) (bool, error) {
	logger := o.logger.With("conversation_id", cb.ConversationID, "request_id", cb.RequestID, "callback", callbackFailure)

	in, err := o.lookup(ctx, cb.ConversationID, cb.RequestID)
	if err != nil {
		return o.settle(err, callbackFailure, logger)
	}
	reason := strings.TrimSpace(cb.Message)
	if reason == "" {
		reason = ReasonProcessingFailed
	}
	return o.settle(o.fail(ctx, in, reason), callbackFailure, logger)
}

// ListConversationTurns returns a conversation's turns, oldest first.
// Unknown conversations yield an empty slice.
func (o *Orchestrator) ListConversationTurns(ctx context.Context, conversationID string) ([]turn.Turn, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("%w: conversationId is required", ErrInvalidInput)
	}
	turns, err := o.turns.ListConversation(ctx, conversationID)
	if err != nil {
		if turnstore.IsNotFound(err) {
			return []turn.Turn{}, nil
		}
		return nil, fmt.Errorf("conversation: failed to list turns: %w", err)
	}
	if turns == nil {
		turns = []turn.Turn{}
	}
	return turn.SortByTimestamp(turns), nil
}

// ListUserConversations summarizes a user's conversations, newest activity first.
func (o *Orchestrator) ListUserConversations(ctx context.Context, userID string) ([]turn.Summary, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrInvalidInput)
	}
	ids, err := o.turns.ListUserConversations(ctx, userID)
	if err != nil {
		if turnstore.IsNotFound(err) {
			return []turn.Summary{}, nil
		}
		return nil, fmt.Errorf("conversation: failed to list conversations: %w", err)
	}

	summaries := make([]turn.Summary, 0, len(ids))
	for _, id := range ids {
		turns, err := o.turns.ListConversation(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("conversation: failed to list turns of %s: %w", id, err)
		}
		owned := make([]turn.Turn, 0, len(turns))
		for _, t := range turns {
			if t.UserID == userID {
				owned = append(owned, t)
			}
		}
		if len(owned) == 0 {
			continue
		}
		summaries = append(summaries, turn.Summarize(id, owned))
	}
	turn.SortSummaries(summaries)
	return summaries, nil
}

// ResolveAudioURL returns a signed URL for t's audio, or "" when the turn
// has no audio or the object is gone.
func (o *Orchestrator) ResolveAudioURL(ctx context.Context, t turn.Turn) (string, error) {
	if t.AudioRef == "" {
		return "", nil
	}
	ok, err := o.blobs.Exists(ctx, t.AudioRef)
	if err != nil {
		return "", fmt.Errorf("conversation: failed to check audio: %w", err)
	}
	if !ok {
		return "", nil
	}
	return o.signedURL(ctx, t.AudioRef)
}

// ExpireStale moves input turns of conversationID that have waited longer
// than olderThan in PROCESSING or TRANSCRIBED to ERROR. It returns how many
// turns were expired.
func (o *Orchestrator) ExpireStale(ctx context.Context, conversationID string, olderThan time.Duration) (int, error) {
	if conversationID == "" {
		return 0, fmt.Errorf("%w: conversationId is required", ErrInvalidInput)
	}
	expired, _, err := o.expire(ctx, conversationID, olderThan)
	return expired, err
}

// expire returns the number of turns expired and the number still pending.
func (o *Orchestrator) expire(ctx context.Context, conversationID string, olderThan time.Duration) (int, int, error) {
	turns, err := o.turns.ListConversation(ctx, conversationID)
	if err != nil {
		return 0, 0, fmt.Errorf("conversation: failed to list turns: %w", err)
	}

	logger := o.logger.With("conversation_id", conversationID, "callback", callbackExpire)
	cutoff := o.clock.Now() - olderThan.Milliseconds()

	var expired, pending int
	for _, t := range turns {
		if t.Direction != turn.DirectionInput || t.Status.IsTerminal() {
			continue
		}
		if lastActivity(t) > cutoff {
			pending++
			continue
		}
		err := o.fail(ctx, t, ReasonPipelineTimeout)
		switch {
		case err == nil:
			expired++
			logger.Info("expired stale turn", "request_id", t.RequestID, "status", t.Status)
		case errors.Is(err, ErrStaleCallback):
			// Moved on since we listed it.
		default:
			return expired, pending, err
		}
	}
	metrics.RecordExpiredTurns(expired)
	return expired, pending, nil
}

// Sweep expires stale turns in every conversation with unfinished turns,
// and forgets conversations that are fully settled. Candidates come from
// the store, so turns left behind by a restart or by another replica are
// swept too, plus the ones this process started since.
func (o *Orchestrator) Sweep(ctx context.Context, olderThan time.Duration) (int, error) {
	var (
		total int
		errs  []error
	)
	ids, err := o.turns.ListPendingConversations(ctx)
	if err != nil {
		// Still sweep what this process knows about.
		errs = append(errs, fmt.Errorf("conversation: failed to list pending conversations: %w", err))
	}
	for _, id := range ids {
		o.pending.Store(id, struct{}{})
	}

	o.pending.Range(func(key, _ any) bool {
		if ctx.Err() != nil {
			return false
		}
		id := key.(string)
		expired, pending, err := o.expire(ctx, id, olderThan)
		total += expired
		if err != nil {
			errs = append(errs, err)
			return true
		}
		if pending == 0 {
			o.pending.Delete(id)
		}
		return true
	})
	return total, errors.Join(errs...)
}

// RunSweeper calls Sweep every interval until ctx is cancelled.
func (o *Orchestrator) RunSweeper(ctx context.Context, interval, olderThan time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	o.logger.Info("stale turn sweeper started", "interval", interval, "older_than", olderThan)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := o.Sweep(ctx, olderThan)
			if err != nil {
				o.logger.Error("sweep failed", "error", err)
			}
			if n > 0 {
				o.logger.Info("sweep expired turns", "count", n)
			}
		}
	}
}

// fail moves t to ERROR with reason and publishes an ERROR event.
func (o *Orchestrator) fail(ctx context.Context, t turn.Turn, reason string) error {
	next, err := t.Advance(turn.StatusError, o.clock.Now())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStaleCallback, err)
	}
	next.ErrorMessage = reason
	if err := o.advance(ctx, t, next); err != nil {
		return err
	}
	o.logger.Info("turn failed",
		"conversation_id", t.ConversationID,
		"request_id", t.RequestID,
		"from", t.Status,
		"reason", reason,
	)
	o.publish(ctx, next, protocol.NewErrorEvent(next.ConversationID, next.RequestID, reason, next.UpdatedAt))
	return nil
}

// advance writes next if the stored turn still has cur's status. Losing the
// race is reported as ErrStaleCallback.
func (o *Orchestrator) advance(ctx context.Context, cur, next turn.Turn) error {
	if err := o.turns.Update(ctx, next, cur.Status); err != nil {
		if turnstore.IsConflict(err) || turnstore.IsNotFound(err) {
			return fmt.Errorf("%w: %v", ErrStaleCallback, err)
		}
		return fmt.Errorf("conversation: failed to update turn: %w", err)
	}
	metrics.RecordTransition(string(cur.Status), string(next.Status))
	return nil
}

// lookup finds the input turn a callback refers to.
func (o *Orchestrator) lookup(ctx context.Context, conversationID, requestID string) (turn.Turn, error) {
	if conversationID == "" || requestID == "" {
		return turn.Turn{}, fmt.Errorf("%w: conversationId and requestId are required", ErrInvalidInput)
	}
	t, err := o.turns.Get(ctx, conversationID, requestID)
	if err != nil {
		if turnstore.IsNotFound(err) {
			return turn.Turn{}, fmt.Errorf("%w: %v", ErrStaleCallback, err)
		}
		return turn.Turn{}, fmt.Errorf("conversation: failed to load turn: %w", err)
	}
	if t.Direction != turn.DirectionInput {
		return turn.Turn{}, fmt.Errorf("%w: %s is not an input turn", ErrStaleCallback, requestID)
	}
	return t, nil
}

// settle turns a callback outcome into (applied, error). Stale callbacks
// are logged and swallowed.
func (o *Orchestrator) settle(err error, callback string, logger *slog.Logger) (bool, error) {
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrStaleCallback) {
		metrics.RecordStaleCallback(callback)
		logger.Info("ignoring stale callback", "reason", err)
		return false, nil
	}
	return false, err
}

func (o *Orchestrator) publish(ctx context.Context, t turn.Turn, ev protocol.Event) {
	o.notifier.Publish(ctx, notify.ConversationTopic(t.ConversationID), ev)
	if t.UserID != "" {
		o.notifier.Publish(ctx, notify.UserTopic(t.UserID), ev)
	}
}

func (o *Orchestrator) signedURL(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", nil
	}
	return o.blobs.SignedURL(ctx, key, o.cfg.SignedURLTTL)
}

// classify maps an invocation outcome to an UpstreamError, or nil on success.
func classify(res *invoke.Result, err error) *UpstreamError {
	if err != nil {
		var fe *invoke.FunctionError
		switch {
		case invoke.IsTimeout(err):
			return &UpstreamError{Kind: UpstreamTimeout, Message: ReasonUpstreamTimeout, Cause: err}
		case errors.As(err, &fe):
			return &UpstreamError{Kind: UpstreamReported, StatusCode: fe.StatusCode, Message: fe.Message, Cause: err}
		default:
			return &UpstreamError{Kind: UpstreamUnavailable, Message: ReasonUpstreamDown, Cause: err}
		}
	}
	if res == nil {
		return &UpstreamError{Kind: UpstreamReported, Message: ReasonEmptyUpstreamBody}
	}
	if !res.OK() {
		msg := res.Message()
		if msg == "" {
			msg = fmt.Sprintf("processing function returned status %d", res.StatusCode)
		}
		return &UpstreamError{Kind: UpstreamReported, StatusCode: res.StatusCode, Message: msg}
	}
	return nil
}

func staleStatus(t turn.Turn) error {
	return fmt.Errorf("%w: %s is %s", ErrStaleCallback, t.RequestID, t.Status)
}

func lastActivity(t turn.Turn) int64 {
	if t.UpdatedAt > t.Timestamp {
		return t.UpdatedAt
	}
	return t.Timestamp
}

// decodeAudio accepts standard or URL-safe base64, padded or not, and an
// optional data URL prefix.
func decodeAudio(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, ";base64,"); i >= 0 && strings.HasPrefix(s, "data:") {
		s = s[i+len(";base64,"):]
	}
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, ErrInvalidAudioEncoding
}
