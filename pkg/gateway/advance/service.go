// Package advance implements the interview turn-advancement flow: quota
// accounting, answer recording, and question generation.
package advance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avirahq/interviewd/pkg/core"
	"github.com/avirahq/interviewd/pkg/core/engine"
	"github.com/avirahq/interviewd/pkg/core/types"
	"github.com/avirahq/interviewd/pkg/gateway/store"
)

// summaryWindow is how many recent exchanges feed the rolling context
// summary.
const summaryWindow = 6

// Documents carries the candidate's parsed ancillary material. Parsing
// happens upstream; the service only threads the results into prompts.
type Documents struct {
	ResumeSummary string
	JDSummary     string
	ResumeJSON    string
	JDJSON        string
}

// DocumentSource loads the candidate's parsed résumé and job description.
type DocumentSource interface {
	Load(ctx context.Context, user *types.User) (Documents, error)
}

// QuestionEngine is the generation collaborator behind the service.
type QuestionEngine interface {
	FirstQuestion(ctx context.Context, systemPrompt string) (engine.Question, error)
	NextQuestion(ctx context.Context, sess *types.Session, resumeJSON, jdJSON, position string) (engine.Question, error)
	ClosingMessage(ctx context.Context, sess *types.Session) (string, error)
}

// Config wires the service's collaborators.
type Config struct {
	Store  store.Store
	Engine QuestionEngine

	// Docs may be nil when no document pipeline is deployed.
	Docs DocumentSource

	Logger *slog.Logger

	// Now overrides the wall clock in tests.
	Now func() time.Time
}

// Service owns the start and advancement operations of the interview API.
type Service struct {
	store  store.Store
	engine QuestionEngine
	docs   DocumentSource
	log    *slog.Logger
	now    func() time.Time
}

// New validates cfg and creates the service.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("advance: store must not be nil")
	}
	if cfg.Engine == nil {
		return nil, errors.New("advance: engine must not be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("advance: logger must not be nil")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		store:  cfg.Store,
		engine: cfg.Engine,
		docs:   cfg.Docs,
		log:    cfg.Logger.With("component", "advance"),
		now:    cfg.Now,
	}, nil
}

func (s *Service) loadDocuments(ctx context.Context, user *types.User) Documents {
	if s.docs == nil {
		return Documents{}
	}
	docs, err := s.docs.Load(ctx, user)
	if err != nil {
		// Missing documents degrade the prompt, they never block the turn.
		s.log.Warn("loading documents failed", "user_id", user.ID, "error", err)
		return Documents{}
	}
	return docs
}

func progressFor(user *types.User, dayCap int) *types.Progress {
	return &types.Progress{
		Current:   user.Limits.DurationUsed,
		Total:     dayCap,
		Remaining: dayCap - user.Limits.DurationUsed,
	}
}

func capFor(user *types.User) int {
	if user.Limits.MaxDurationPerDay > 0 {
		return user.Limits.MaxDurationPerDay
	}
	return types.CapForTier(user.Tier)
}

// Start creates a session and generates its first question.
func (s *Service) Start(ctx context.Context, req types.StartRequest) (*types.StartResponse, error) {
	if req.UserID == "" {
		return nil, core.NewInvalidRequestErrorWithParam("Missing userId", "user_id")
	}

	user, err := s.store.GetUser(ctx, req.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, core.NewNotFoundError("User not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	docs := s.loadDocuments(ctx, user)
	systemPrompt := engine.BuildSystemPrompt(docs.ResumeSummary, docs.JDSummary, engine.PromptSettings{
		Position:   user.Role,
		Difficulty: user.Difficulty,
	})

	q, err := s.engine.FirstQuestion(ctx, systemPrompt)
	if err != nil {
		return nil, fmt.Errorf("generate first question: %w", err)
	}

	now := s.now()
	sess := &types.Session{
		ID:              uuid.NewString(),
		UserID:          user.ID,
		Status:          types.SessionOngoing,
		SystemPrompt:    systemPrompt,
		CurrentQuestion: 1,
		StartedAt:       now,
		QAHistory: []types.QAEntry{{
			QuestionID: q.QuestionID,
			Question:   q.QuestionText,
			Topic:      q.Topic,
			Difficulty: q.Difficulty,
			CreatedAt:  now,
		}},
	}
	if err := s.store.PutSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	s.log.Info("session started", "session_id", sess.ID, "user_id", user.ID)
	return &types.StartResponse{
		Success:    true,
		SessionID:  sess.ID,
		Question:   q.QuestionText,
		QuestionID: q.QuestionID,
		Progress:   progressFor(user, capFor(user)),
	}, nil
}

// Advance records the answer to the open question and returns either the
// next question or the closing acknowledgment.
func (s *Service) Advance(ctx context.Context, req types.AdvanceRequest) (*types.AdvanceResponse, error) {
	if req.UserID == "" || req.SessionID == "" || req.QuestionID == "" {
		return nil, core.NewInvalidRequestError("Missing required fields: userId, sessionId, questionId, or answerText")
	}
	if req.AnswerText == "" {
		return nil, core.NewInvalidRequestErrorWithParam("answerText is required", "answer_text")
	}

	user, err := s.checkQuota(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	dayCap := capFor(user)

	sess, err := s.store.GetSession(ctx, req.SessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, core.NewNotFoundError("Session not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess.UserID != req.UserID {
		return nil, core.NewNotFoundError("Session not found")
	}

	if sess.Status == types.SessionCompleted {
		if resp := s.replayIfDuplicate(sess, req, user, dayCap); resp != nil {
			return resp, nil
		}
		return nil, core.NewInvalidRequestError("Session already completed")
	}

	// The elapsed check runs before the entry lookup: an exhausted session
	// ends no matter which question the client thinks is open.
	elapsed := int(s.now().Sub(sess.StartedAt) / time.Second)
	if elapsed >= dayCap {
		if err := s.forceComplete(ctx, sess, user.ID, dayCap); err != nil {
			return nil, err
		}
		return nil, core.NewQuotaExceededError("Session time limit reached", true)
	}

	idx := sess.EntryIndex(req.QuestionID)
	if idx == -1 {
		return nil, core.NewNotFoundError("Question not found in session history")
	}
	if resp := s.replayIfDuplicate(sess, req, user, dayCap); resp != nil {
		return resp, nil
	}

	// Answer durability comes first: the entry is recorded and persisted
	// before anything else can fail.
	now := s.now()
	entry := &sess.QAHistory[idx]
	entry.Answer = req.AnswerText
	entry.UpdatedAt = now
	entry.SubmitToken = req.SubmitToken
	if err := s.store.PutSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("record answer: %w", err)
	}

	if req.End {
		return s.finish(ctx, sess, user, elapsed, "user_ended")
	}
	return s.nextTurn(ctx, sess, user, elapsed)
}

// checkQuota resets the daily ledger if the date rolled over and enforces
// the cap. Reset and read happen in one atomic update, so concurrent
// submits on the same day observe exactly one reset.
func (s *Service) checkQuota(ctx context.Context, userID string) (*types.User, error) {
	today := s.now().UTC().Format(time.DateOnly)
	user, err := s.store.UpdateUser(ctx, userID, func(u *types.User) error {
		if u.Limits.LastResetDate != today {
			u.Limits.DurationUsed = 0
			u.Limits.LastResetDate = today
		}
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, core.NewNotFoundError("User not found")
	}
	if err != nil {
		return nil, fmt.Errorf("check quota: %w", err)
	}
	if user.Limits.DurationUsed >= capFor(user) {
		return nil, core.NewQuotaExceededError("Daily duration limit exceeded", true)
	}
	return user, nil
}

// replayIfDuplicate returns the recorded outcome when the submit token was
// already applied to its entry, so a retried request never answers twice.
func (s *Service) replayIfDuplicate(sess *types.Session, req types.AdvanceRequest, user *types.User, dayCap int) *types.AdvanceResponse {
	if req.SubmitToken == "" {
		return nil
	}
	idx := sess.EntryIndex(req.QuestionID)
	if idx == -1 {
		return nil
	}
	entry := sess.QAHistory[idx]
	if entry.SubmitToken != req.SubmitToken || entry.Answer == "" {
		return nil
	}

	s.log.Info("replaying duplicate submit",
		"session_id", sess.ID, "question_id", req.QuestionID)

	if sess.Status == types.SessionCompleted {
		return &types.AdvanceResponse{
			Success:          true,
			End:              true,
			QuestionID:       uuid.NewString(),
			Question:         "Thank you for your time. The interview is now complete.",
			Transcript:       types.Transcript(sess.QAHistory, true),
			CompletionReason: "user_ended",
		}
	}

	// The unanswered tail holds the question the original submit produced.
	tail := sess.QAHistory[len(sess.QAHistory)-1]
	return &types.AdvanceResponse{
		Success:    true,
		Question:   tail.Question,
		QuestionID: tail.QuestionID,
		Topic:      tail.Topic,
		Difficulty: tail.Difficulty,
		Progress:   progressFor(user, dayCap),
		Transcript: types.Transcript(sess.QAHistory, false),
	}
}

// forceComplete closes an exhausted session, persisting the capped usage
// and the terminal status concurrently.
func (s *Service) forceComplete(ctx context.Context, sess *types.Session, userID string, dayCap int) error {
	sess.Status = types.SessionCompleted
	sess.EndedAt = s.now()

	var wg sync.WaitGroup
	var sessErr, userErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		sessErr = s.store.PutSession(ctx, sess)
	}()
	go func() {
		defer wg.Done()
		_, userErr = s.store.UpdateUser(ctx, userID, func(u *types.User) error {
			u.Limits.DurationUsed = dayCap
			return nil
		})
	}()
	wg.Wait()

	if sessErr != nil {
		return fmt.Errorf("complete session: %w", sessErr)
	}
	if userErr != nil {
		return fmt.Errorf("persist usage: %w", userErr)
	}
	s.log.Info("session force-completed at time limit", "session_id", sess.ID)
	return nil
}

// persistTurn saves the session and the usage ledger concurrently,
// returning the user post-image for the progress snapshot.
func (s *Service) persistTurn(ctx context.Context, sess *types.Session, userID string, elapsed int) (*types.User, error) {
	var wg sync.WaitGroup
	var sessErr, userErr error
	var updated *types.User
	wg.Add(2)
	go func() {
		defer wg.Done()
		sessErr = s.store.PutSession(ctx, sess)
	}()
	go func() {
		defer wg.Done()
		updated, userErr = s.store.UpdateUser(ctx, userID, func(u *types.User) error {
			u.Limits.DurationUsed = elapsed
			return nil
		})
	}()
	wg.Wait()

	if sessErr != nil {
		return nil, fmt.Errorf("persist session: %w", sessErr)
	}
	if userErr != nil {
		return nil, fmt.Errorf("persist usage: %w", userErr)
	}
	return updated, nil
}

// finish completes the session on the candidate's final submit.
func (s *Service) finish(ctx context.Context, sess *types.Session, user *types.User, elapsed int, reason string) (*types.AdvanceResponse, error) {
	sess.Status = types.SessionCompleted
	sess.EndedAt = s.now()
	sess.RecomputeContextSummary(summaryWindow)

	closing, err := s.engine.ClosingMessage(ctx, sess)
	if err != nil {
		s.log.Warn("closing message generation failed", "error", err)
		closing = "Thank you for your time. The interview is now complete."
	}

	if _, err := s.persistTurn(ctx, sess, user.ID, elapsed); err != nil {
		return nil, err
	}

	s.log.Info("session completed", "session_id", sess.ID, "reason", reason)
	return &types.AdvanceResponse{
		Success:          true,
		End:              true,
		QuestionID:       uuid.NewString(),
		Question:         closing,
		Transcript:       types.Transcript(sess.QAHistory, true),
		CompletionReason: reason,
	}, nil
}

// nextTurn generates the next question and appends it as the new unanswered
// tail.
func (s *Service) nextTurn(ctx context.Context, sess *types.Session, user *types.User, elapsed int) (*types.AdvanceResponse, error) {
	docs := s.loadDocuments(ctx, user)
	q, err := s.engine.NextQuestion(ctx, sess, docs.ResumeJSON, docs.JDJSON, user.Role)
	if err != nil {
		return nil, fmt.Errorf("generate next question: %w", err)
	}

	now := s.now()
	sess.QAHistory = append(sess.QAHistory, types.QAEntry{
		QuestionID: q.QuestionID,
		Question:   q.QuestionText,
		Topic:      q.Topic,
		Difficulty: q.Difficulty,
		CreatedAt:  now,
	})
	sess.CurrentQuestion++
	sess.RecomputeContextSummary(summaryWindow)

	updated, err := s.persistTurn(ctx, sess, user.ID, elapsed)
	if err != nil {
		return nil, err
	}

	return &types.AdvanceResponse{
		Success:    true,
		Question:   q.QuestionText,
		QuestionID: q.QuestionID,
		Topic:      q.Topic,
		Difficulty: q.Difficulty,
		Progress:   progressFor(updated, capFor(updated)),
		Transcript: types.Transcript(sess.QAHistory, false),
	}, nil
}
