package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avirahq/interviewd/pkg/core"
	"github.com/avirahq/interviewd/pkg/core/types"
)

// EndFillerAnswer stands in for the candidate's answer when the interview is
// ended without any speech captured for the open question.
const EndFillerAnswer = "I want to end this session, Thank you"

// MaxReconnectAttempts is how many speech-transport reconnects are attempted
// before the session reports a terminal failure.
const MaxReconnectAttempts = 3

// reconnectSettleDelay is the pause between tearing down a dead speech
// connection and dialing a new one.
const reconnectSettleDelay = 500 * time.Millisecond

// Backend is the interview gateway as seen from the session client.
type Backend interface {
	Start(ctx context.Context, req types.StartRequest) (*types.StartResponse, error)
	Advance(ctx context.Context, req types.AdvanceRequest) (*types.AdvanceResponse, error)
}

// Notice is a user-facing message surfaced by the client. Transient notices
// may be auto-dismissed by the embedding front end after DismissAfter.
type Notice struct {
	Message      string
	Terminal     bool
	DismissAfter time.Duration
}

// ClientConfig wires the session client's collaborators. All dependencies
// are injected so submit paths and reconnects always act on current state.
type ClientConfig struct {
	UserID    string
	Backend   Backend
	Dialer    SpeechDialer
	Snapshots SnapshotStore
	Scheduler *Scheduler

	// Logger must not be nil.
	Logger *slog.Logger

	// OnNotice receives user-facing errors and status messages.
	OnNotice func(Notice)
	// OnQuestion fires when a new question becomes current.
	OnQuestion func(questionID, question string)
	// OnEnded fires once when the session reaches its terminal state.
	OnEnded func(reason string)

	// Now overrides the wall clock in tests.
	Now func() time.Time
}

func (c *ClientConfig) validate() error {
	if c.UserID == "" {
		return core.NewInvalidRequestErrorWithParam("user id is required", "user_id")
	}
	if c.Backend == nil {
		return errors.New("backend must not be nil")
	}
	if c.Dialer == nil {
		return errors.New("speech dialer must not be nil")
	}
	if c.Snapshots == nil {
		return errors.New("snapshot store must not be nil")
	}
	if c.Scheduler == nil {
		return errors.New("scheduler must not be nil")
	}
	if c.Logger == nil {
		return errors.New("logger must not be nil")
	}
	return nil
}

// Client drives one interview session end to end: it owns the phase machine,
// the speech connection, the accumulated answer text, and the recovery
// snapshot.
type Client struct {
	cfg    ClientConfig
	phases *PhaseMachine
	log    *slog.Logger

	mu          sync.Mutex
	initialized bool
	cancelled   bool
	submitting  bool
	sessionID   string
	questionID  string
	question    string
	answerBuf   strings.Builder
	reconnects  int
	conn        SpeechConn
}

// NewClient validates the configuration and creates an uninitialized client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	c := &Client{
		cfg:    cfg,
		phases: NewPhaseMachine(),
		log:    cfg.Logger.With("component", "live.client"),
	}
	cfg.Scheduler.SetOnDrained(c.onPlaybackDrained)
	return c, nil
}

// Phases exposes the phase machine for capture gating.
func (c *Client) Phases() *PhaseMachine { return c.phases }

// SessionID returns the active session id, empty before initialization.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// CurrentQuestion returns the open question and its id.
func (c *Client) CurrentQuestion() (id, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.questionID, c.question
}

// Init starts or resumes the session. It is idempotent: repeated calls while
// a session is live are no-ops. A valid snapshot younger than one hour wins
// over starting fresh.
func (c *Client) Init(ctx context.Context) error {
	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		return nil
	}
	c.initialized = true
	c.cancelled = false
	c.mu.Unlock()

	sessionID, questionID, question, err := c.resolveStartState(ctx)
	if err != nil {
		c.markUninitialized()
		return err
	}

	c.mu.Lock()
	if c.cancelled {
		c.mu.Unlock()
		c.markUninitialized()
		return context.Canceled
	}
	c.sessionID = sessionID
	c.questionID = questionID
	c.question = question
	c.mu.Unlock()

	if err := c.connectAndSpeak(question); err != nil {
		c.markUninitialized()
		return err
	}

	if c.cfg.OnQuestion != nil {
		c.cfg.OnQuestion(questionID, question)
	}
	return nil
}

func (c *Client) markUninitialized() {
	c.mu.Lock()
	c.initialized = false
	c.mu.Unlock()
}

// resolveStartState picks up a fresh snapshot or starts a new session.
func (c *Client) resolveStartState(ctx context.Context) (sessionID, questionID, question string, err error) {
	if snap, ok, loadErr := c.cfg.Snapshots.Load(); loadErr == nil && ok && snap.Valid(c.cfg.Now()) {
		c.log.Info("resuming session from snapshot",
			"session_id", snap.SessionID, "question_id", snap.QuestionID)
		return snap.SessionID, snap.QuestionID, snap.Question, nil
	}

	resp, err := c.cfg.Backend.Start(ctx, types.StartRequest{UserID: c.cfg.UserID})
	if err != nil {
		return "", "", "", c.describeInitError(err)
	}
	if !resp.Success || resp.Question == "" {
		return "", "", "", core.NewAPIError("interview could not be started")
	}

	c.saveSnapshot(resp.SessionID, resp.QuestionID, resp.Question)
	return resp.SessionID, resp.QuestionID, resp.Question, nil
}

func (c *Client) describeInitError(err error) error {
	var cerr *core.Error
	if errors.As(err, &cerr) {
		switch cerr.Type {
		case core.ErrRateLimit, core.ErrQuotaExceeded:
			return cerr
		}
	}
	if errors.Is(err, ErrMicDenied) {
		return err
	}
	return fmt.Errorf("failed to start interview: %w", err)
}

// connectAndSpeak dials the speech transport and dispatches the question.
// Success moves the phase machine to AI_SPEAKING.
func (c *Client) connectAndSpeak(question string) error {
	conn, err := c.cfg.Dialer.Dial(c.handleSpeechEvent)
	if err != nil {
		return fmt.Errorf("speech connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	if err := conn.SpeakQuestion(question); err != nil {
		_ = conn.Close()
		return fmt.Errorf("dispatch question: %w", err)
	}

	if !c.phases.Transition(PhaseInit, PhaseAISpeaking) {
		// Re-entry after a reconnect: the machine is mid-cycle.
		c.phases.Transition(PhaseProcessingAnswer, PhaseAISpeaking)
	}
	return nil
}

// handleSpeechEvent is the single dispatch point for transport events.
func (c *Client) handleSpeechEvent(ev SpeechEvent) {
	switch ev.Type {
	case SpeechAudioChunk:
		// Stale chunks arriving outside the interviewer's turn are dropped.
		if !c.phases.AcceptsAIAudio() {
			return
		}
		c.cfg.Scheduler.Schedule(ev.Audio)
	case SpeechTranscription:
		if !c.phases.AcceptsUserAudio() {
			return
		}
		if ev.Final && ev.Text != "" {
			c.appendAnswer(ev.Text)
		}
	case SpeechInterrupted:
		c.cfg.Scheduler.Interrupt()
	case SpeechErr:
		c.log.Warn("speech transport error", "error", ev.Err)
	case SpeechClosed:
		if ev.Err != nil {
			c.log.Warn("speech connection lost", "error", ev.Err)
			go c.Reconnect(context.Background())
		}
	}
}

func (c *Client) appendAnswer(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.answerBuf.Len() > 0 {
		c.answerBuf.WriteByte(' ')
	}
	c.answerBuf.WriteString(text)
}

// AnswerText returns the accumulated transcription for the open question.
func (c *Client) AnswerText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.answerBuf.String()
}

// onPlaybackDrained advances the turn to the candidate once the interviewer
// has finished speaking.
func (c *Client) onPlaybackDrained() {
	c.phases.Transition(PhaseAISpeaking, PhaseUserSpeaking)
}

// Submit sends the accumulated answer and requests the next question.
func (c *Client) Submit(ctx context.Context) error {
	return c.submit(ctx, false)
}

// End submits the final answer and completes the interview. When nothing was
// captured, a filler answer is substituted so the closing turn is recorded.
func (c *Client) End(ctx context.Context) error {
	return c.submit(ctx, true)
}

func (c *Client) submit(ctx context.Context, end bool) error {
	c.mu.Lock()
	if c.submitting {
		c.mu.Unlock()
		return core.NewInvalidRequestError("a submit is already in flight")
	}
	if c.phases.Phase() != PhaseUserSpeaking {
		c.mu.Unlock()
		return core.NewInvalidRequestError("no answer is being taken right now")
	}
	answer := strings.TrimSpace(c.answerBuf.String())
	if answer == "" {
		if !end {
			c.mu.Unlock()
			return core.NewInvalidRequestError("answer is empty")
		}
		answer = EndFillerAnswer
	}
	c.submitting = true
	sessionID := c.sessionID
	questionID := c.questionID
	c.answerBuf.Reset()
	c.mu.Unlock()

	if !c.phases.Transition(PhaseUserSpeaking, PhaseProcessingAnswer) {
		c.restoreAfterFailedSubmit(answer)
		return core.NewInvalidRequestError("no answer is being taken right now")
	}

	resp, err := c.cfg.Backend.Advance(ctx, types.AdvanceRequest{
		UserID:      c.cfg.UserID,
		SessionID:   sessionID,
		QuestionID:  questionID,
		AnswerText:  answer,
		End:         end,
		SubmitToken: uuid.NewString(),
	})
	if err != nil {
		var cerr *core.Error
		if errors.As(err, &cerr) && cerr.End {
			c.finish("quota_exceeded")
			return cerr
		}
		c.restoreAfterFailedSubmit(answer)
		c.notify(Notice{
			Message:      "Could not submit your answer. Please try again.",
			DismissAfter: 5 * time.Second,
		})
		return err
	}

	if resp.End {
		reason := resp.CompletionReason
		if reason == "" {
			reason = "user_ended"
		}
		c.finish(reason)
		return nil
	}

	c.mu.Lock()
	c.questionID = resp.QuestionID
	c.question = resp.Question
	c.submitting = false
	conn := c.conn
	c.mu.Unlock()

	c.saveSnapshot(sessionID, resp.QuestionID, resp.Question)

	if conn != nil {
		if err := conn.SpeakQuestion(resp.Question); err != nil {
			c.log.Warn("dispatch next question failed", "error", err)
			go c.Reconnect(context.Background())
		} else {
			c.phases.Transition(PhaseProcessingAnswer, PhaseAISpeaking)
		}
	}

	if c.cfg.OnQuestion != nil {
		c.cfg.OnQuestion(resp.QuestionID, resp.Question)
	}
	return nil
}

// restoreAfterFailedSubmit puts the answer back and returns the turn to the
// candidate so nothing typed or spoken is lost.
func (c *Client) restoreAfterFailedSubmit(answer string) {
	c.mu.Lock()
	c.answerBuf.Reset()
	if answer != EndFillerAnswer {
		c.answerBuf.WriteString(answer)
	}
	c.submitting = false
	c.mu.Unlock()
	c.phases.Transition(PhaseProcessingAnswer, PhaseUserSpeaking)
}

// finish tears the session down in its terminal state.
func (c *Client) finish(reason string) {
	c.phases.End()
	c.cfg.Scheduler.Interrupt()

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.submitting = false
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if err := c.cfg.Snapshots.Clear(); err != nil {
		c.log.Warn("clearing snapshot failed", "error", err)
	}
	c.log.Info("session finished", "reason", reason)
	if c.cfg.OnEnded != nil {
		c.cfg.OnEnded(reason)
	}
}

// Reconnect replaces a dead speech connection, re-dispatching the current
// question. Attempts beyond MaxReconnectAttempts yield a terminal notice.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.phases.Phase() == PhaseEnded {
		c.mu.Unlock()
		return nil
	}
	c.reconnects++
	attempt := c.reconnects
	conn := c.conn
	c.conn = nil
	question := c.question
	c.mu.Unlock()

	if attempt > MaxReconnectAttempts {
		if conn != nil {
			_ = conn.Close()
		}
		c.notify(Notice{
			Message:  "Connection lost. Please refresh the page to continue.",
			Terminal: true,
		})
		c.finish("connection_lost")
		return core.NewAPIError("speech reconnect attempts exhausted")
	}

	if conn != nil {
		_ = conn.Close()
	}
	c.cfg.Scheduler.Interrupt()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(reconnectSettleDelay):
	}

	// Prefer live state; fall back to the snapshot if the question was lost.
	if question == "" {
		if snap, ok, err := c.cfg.Snapshots.Load(); err == nil && ok && snap.Valid(c.cfg.Now()) {
			question = snap.Question
		}
	}
	if question == "" {
		return core.NewAPIError("no question available to resume")
	}

	c.log.Info("reconnecting speech transport", "attempt", attempt)

	newConn, err := c.cfg.Dialer.Dial(c.handleSpeechEvent)
	if err != nil {
		c.notifyReconnectFailed(attempt)
		return fmt.Errorf("speech reconnect: %w", err)
	}
	c.mu.Lock()
	c.conn = newConn
	c.mu.Unlock()

	if err := newConn.SpeakQuestion(question); err != nil {
		c.notifyReconnectFailed(attempt)
		return fmt.Errorf("re-dispatch question: %w", err)
	}

	// The budget counts consecutive failures only: a recovered connection
	// starts over with the full allowance.
	c.mu.Lock()
	c.reconnects = 0
	c.mu.Unlock()

	// A drop during answer processing resumes with the interviewer speaking.
	// During the candidate's turn the phase is left alone; the re-spoken
	// audio is gated out and the accumulated answer survives.
	c.phases.Transition(PhaseProcessingAnswer, PhaseAISpeaking)
	return nil
}

func (c *Client) notifyReconnectFailed(attempt int) {
	c.notify(Notice{
		Message:      fmt.Sprintf("Reconnection failed (attempt %d/%d).", attempt, MaxReconnectAttempts),
		DismissAfter: 5 * time.Second,
	})
}

// Cancel abandons an in-flight initialization: any effects that complete
// after teardown are discarded.
func (c *Client) Cancel() {
	c.mu.Lock()
	c.cancelled = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.phases.End()
	c.cfg.Scheduler.Interrupt()
}

func (c *Client) saveSnapshot(sessionID, questionID, question string) {
	err := c.cfg.Snapshots.Save(Snapshot{
		SessionID:  sessionID,
		QuestionID: questionID,
		Question:   question,
		SavedAt:    c.cfg.Now(),
	})
	if err != nil {
		c.log.Warn("saving snapshot failed", "error", err)
	}
}

func (c *Client) notify(n Notice) {
	if c.cfg.OnNotice != nil {
		c.cfg.OnNotice(n)
	}
}
