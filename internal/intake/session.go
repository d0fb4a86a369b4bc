package intake

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Phase is the coarse session lifecycle gate. Capture and validation only
// run while the phase is active.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseConnecting Phase = "connecting"
	PhaseActive     Phase = "active"
	PhaseEnded      Phase = "ended"
)

// ErrPermissionDenied is returned by capture sources when the microphone
// cannot be acquired. The interview cannot start without it, but the user
// may retry after granting access.
var ErrPermissionDenied = errors.New("intake: microphone permission denied")

// Patient-facing copy for lifecycle transitions.
const (
	PermissionApologyText = "I need microphone access to proceed. Please enable permissions."
	StreamApologyText     = "I couldn't reach the transcription service. Please try again in a moment."
	GatheringText         = "Thank you. I have gathered all the necessary information. Please wait a moment while I generate your consultation report..."
	FarewellText          = "Your consultation report is ready. It includes a summary of your symptoms, potential doctor visit recommendations, and precautionary measures."
	ManualEndText         = "Session ended manually."
)

// SessionConfig tunes one interview.
type SessionConfig struct {
	// Questions seeds the interview; DefaultQuestions() when empty.
	Questions []Question
	// PivotQuestionID names the question whose accepted answer triggers
	// follow-up generation. Defaults to DefaultPivotQuestionID.
	PivotQuestionID string
	// RelistenDelay is the pause before capture restarts after a rejected
	// answer; PromptDelay the pause after a new prompt before capture
	// resumes. Both default to one second.
	RelistenDelay time.Duration
	PromptDelay   time.Duration
	// Speak, when set, voices each AI prompt (TTS integration point).
	Speak func(text string)
}

// Session orchestrates one intake interview: it owns the question list,
// the answer map and the current position, drives the transcriber's
// capture turns, gates every utterance through the validator, splices in
// generated follow-ups at the pivot and compiles the report at the end.
type Session struct {
	id          string
	transcriber Transcriber
	validator   Validator
	generator   FollowUpGenerator
	compiler    ReportCompiler
	cfg         SessionConfig
	onMessage   func(Message)

	mu            sync.Mutex
	phase         Phase
	questions     []Question
	index         int
	answers       []Answer
	answerSet     map[string]string
	messages      []Message
	processing    bool
	followUpsDone bool
	// lastProcessed guards against the adapter firing duplicate
	// end-of-utterance events for the same listening turn.
	lastProcessed string
	// turn is the single-slot in-flight token: completions apply only if
	// the token still matches.
	turn   int
	recs   *Recommendations
	timers []*time.Timer
	cancel context.CancelFunc
}

// NewSession constructs an intake session. Nil advisory collaborators are
// replaced with no-op policies (always valid, no follow-ups, no report).
func NewSession(t Transcriber, v Validator, g FollowUpGenerator, r ReportCompiler, cfg SessionConfig, onMessage func(Message)) *Session {
	if len(cfg.Questions) == 0 {
		cfg.Questions = DefaultQuestions()
	}
	if cfg.PivotQuestionID == "" {
		cfg.PivotQuestionID = DefaultPivotQuestionID
	}
	if cfg.RelistenDelay == 0 {
		cfg.RelistenDelay = time.Second
	}
	if cfg.PromptDelay == 0 {
		cfg.PromptDelay = time.Second
	}
	if v == nil {
		v = nopValidator{}
	}
	if g == nil {
		g = nopGenerator{}
	}
	if r == nil {
		r = nopCompiler{}
	}
	qs := make([]Question, len(cfg.Questions))
	copy(qs, cfg.Questions)
	return &Session{
		id:          uuid.NewString(),
		transcriber: t,
		validator:   v,
		generator:   g,
		compiler:    r,
		cfg:         cfg,
		onMessage:   onMessage,
		phase:       PhaseIdle,
		questions:   qs,
		answerSet:   make(map[string]string),
	}
}

// ID returns the session identity.
func (s *Session) ID() string { return s.id }

// Start moves idle -> connecting -> active. On a capture failure the
// session falls back to idle with an explanatory message and the error is
// returned so transports can surface it.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.phase != PhaseIdle {
		phase := s.phase
		s.mu.Unlock()
		return fmt.Errorf("intake: session already started (phase %s)", phase)
	}
	s.phase = PhaseConnecting
	s.mu.Unlock()

	if err := s.transcriber.Connect(); err != nil {
		s.mu.Lock()
		if s.phase == PhaseConnecting {
			s.phase = PhaseIdle
			if errors.Is(err, ErrPermissionDenied) {
				s.appendMessageLocked(SenderAI, PermissionApologyText)
			} else {
				s.appendMessageLocked(SenderAI, StreamApologyText)
			}
		}
		s.mu.Unlock()
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.phase != PhaseConnecting {
		// End() won the race while the capture source was connecting.
		s.mu.Unlock()
		cancel()
		_ = s.transcriber.Close()
		return errors.New("intake: session ended during connect")
	}
	s.cancel = cancel
	s.phase = PhaseActive
	first := s.questions[s.index]
	s.appendMessageLocked(SenderAI, first.Text)
	s.mu.Unlock()

	s.speak(first.Text)
	s.transcriber.BeginTurn()

	go s.loop(loopCtx)
	return nil
}

func (s *Session) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case utterance, ok := <-s.transcriber.Finalize():
			if !ok {
				return
			}
			s.handleUtterance(ctx, utterance)
		}
	}
}

// handleUtterance runs one interview step for a completed utterance. The
// processing flag is set before the validator call and cleared only after
// the transition it gates has been applied; duplicate events for the same
// turn are dropped before any remote call is made.
func (s *Session) handleUtterance(ctx context.Context, raw string) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return
	}

	s.mu.Lock()
	if s.phase != PhaseActive || s.processing || text == s.lastProcessed {
		s.mu.Unlock()
		return
	}
	s.lastProcessed = text
	s.processing = true
	token := s.turn
	q := s.questions[s.index]
	s.mu.Unlock()

	res := s.validator.Validate(ctx, q, text)

	s.mu.Lock()
	if s.phase != PhaseActive || s.turn != token {
		// The session ended or moved on while the judgment was in flight.
		s.processing = false
		s.mu.Unlock()
		return
	}

	if !res.IsValid {
		feedback := res.Feedback
		if feedback == "" {
			feedback = DefaultRepromptText
		}
		s.appendMessageLocked(SenderAI, feedback)
		s.lastProcessed = ""
		t := time.AfterFunc(s.cfg.RelistenDelay, func() {
			s.mu.Lock()
			s.processing = false
			relisten := s.phase == PhaseActive && s.turn == token
			s.mu.Unlock()
			if relisten {
				s.transcriber.BeginTurn()
			}
		})
		s.timers = append(s.timers, t)
		s.mu.Unlock()
		s.speak(feedback)
		return
	}

	s.appendMessageLocked(SenderUser, text)
	if _, exists := s.answerSet[q.Field]; !exists {
		s.answerSet[q.Field] = text
		s.answers = append(s.answers, Answer{Field: q.Field, Text: text})
	}
	generate := q.ID == s.cfg.PivotQuestionID && !s.followUpsDone
	if generate {
		s.followUpsDone = true
	}
	answers := s.answersLocked()
	s.mu.Unlock()

	// Follow-up generation happens at most once per session, right after
	// the pivot answer is accepted and before the index advances.
	var followUps []Question
	if generate {
		followUps = s.generator.Generate(ctx, answers)
	}

	s.mu.Lock()
	if s.phase != PhaseActive || s.turn != token {
		s.processing = false
		s.mu.Unlock()
		return
	}
	if len(followUps) > 0 {
		s.questions = spliceQuestions(s.questions, s.index, followUps)
	}
	s.index++
	s.turn++
	s.lastProcessed = ""

	if s.index < len(s.questions) {
		next := s.questions[s.index]
		s.appendMessageLocked(SenderAI, next.Text)
		s.processing = false
		nextToken := s.turn
		t := time.AfterFunc(s.cfg.PromptDelay, func() {
			s.mu.Lock()
			resume := s.phase == PhaseActive && s.turn == nextToken
			s.mu.Unlock()
			if resume {
				s.transcriber.BeginTurn()
			}
		})
		s.timers = append(s.timers, t)
		s.mu.Unlock()
		s.speak(next.Text)
		return
	}

	s.appendMessageLocked(SenderAI, GatheringText)
	s.mu.Unlock()
	s.speak(GatheringText)
	s.finish(ctx)
}

// finish compiles the report and lands the session in ended. Compilation
// failure is non-fatal: the session still ends, just without
// recommendations.
func (s *Session) finish(ctx context.Context) {
	s.mu.Lock()
	answers := s.answersLocked()
	s.mu.Unlock()

	recs, err := s.compiler.Compile(ctx, s.id, answers)

	s.mu.Lock()
	if s.phase == PhaseEnded {
		// Manual end raced the compile; keep the manual outcome.
		s.processing = false
		s.mu.Unlock()
		return
	}
	if err != nil {
		log.Printf("intake[%s]: report compilation failed: %v", s.id, err)
	} else {
		s.recs = &recs
	}
	s.phase = PhaseEnded
	s.processing = false
	s.appendMessageLocked(SenderAI, FarewellText)
	cancel := s.cancel
	s.mu.Unlock()

	_ = s.transcriber.Close()
	if cancel != nil {
		cancel()
	}
	s.speak(FarewellText)
}

// End terminates the session from any point, skipping remaining
// questions. Capture stops deterministically, pending delay timers are
// cancelled, and in-flight remote results are discarded via the turn
// token.
func (s *Session) End() {
	s.mu.Lock()
	if s.phase == PhaseEnded {
		s.mu.Unlock()
		return
	}
	s.phase = PhaseEnded
	s.turn++
	for _, t := range s.timers {
		_ = t.Stop()
	}
	s.timers = nil
	s.appendMessageLocked(SenderAI, ManualEndText)
	cancel := s.cancel
	s.mu.Unlock()

	_ = s.transcriber.Close()
	if cancel != nil {
		cancel()
	}
}

func (s *Session) speak(text string) {
	if s.cfg.Speak != nil {
		go s.cfg.Speak(text)
	}
}

func (s *Session) appendMessageLocked(sender Sender, text string) {
	m := newMessage(sender, text)
	s.messages = append(s.messages, m)
	if s.onMessage != nil {
		go s.onMessage(m)
	}
}

func (s *Session) answersLocked() []Answer {
	out := make([]Answer, len(s.answers))
	copy(out, s.answers)
	return out
}

// Phase returns the current lifecycle phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Messages returns a snapshot of the display transcript.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Answers returns accepted answers in acceptance order.
func (s *Session) Answers() []Answer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answersLocked()
}

// AnswerMap returns the accepted answers keyed by report field.
func (s *Session) AnswerMap() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.answerSet))
	for k, v := range s.answerSet {
		out[k] = v
	}
	return out
}

// Questions returns a snapshot of the (possibly extended) interview list.
func (s *Session) Questions() []Question {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Question, len(s.questions))
	copy(out, s.questions)
	return out
}

// CurrentQuestion returns the question awaiting an answer, if any.
func (s *Session) CurrentQuestion() (Question, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseActive || s.index >= len(s.questions) {
		return Question{}, false
	}
	return s.questions[s.index], true
}

// Recommendations returns the compiled report outcome, if one was
// produced.
func (s *Session) Recommendations() (Recommendations, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recs == nil {
		return Recommendations{}, false
	}
	return *s.recs, true
}

type nopValidator struct{}

func (nopValidator) Validate(context.Context, Question, string) ValidationResult {
	return ValidationResult{IsValid: true}
}

type nopGenerator struct{}

func (nopGenerator) Generate(context.Context, []Answer) []Question { return nil }

type nopCompiler struct{}

func (nopCompiler) Compile(context.Context, string, []Answer) (Recommendations, error) {
	return Recommendations{}, errors.New("intake: no report compiler configured")
}
