package intake

import "context"

// Transcriber is the capture surface the session drives: a continuous
// speech-to-text stream that emits one completed utterance per listening
// turn. The session never reaches into the transcriber's buffer; it only
// consumes Finalize events.
type Transcriber interface {
	Connect() error
	// BeginTurn resets the per-turn transcript buffer and arms capture.
	BeginTurn()
	// Finalize yields end-of-utterance events (the accumulated turn text).
	Finalize() <-chan string
	Close() error
}

// ValidationResult is the judgment on one captured answer.
type ValidationResult struct {
	IsValid  bool   `json:"isValid"`
	Feedback string `json:"feedback,omitempty"`
}

// Validator classifies an utterance as a usable answer to the question
// just asked. Implementations own the fail-open policy: a broken backend
// must yield IsValid true rather than block the interview.
type Validator interface {
	Validate(ctx context.Context, question Question, answer string) ValidationResult
}

// Answer is one accepted field/value pair, in acceptance order.
type Answer struct {
	Field string `json:"field"`
	Text  string `json:"text"`
}

// FollowUpGenerator synthesizes extra questions from the answers collected
// so far. Implementations fail soft: any backend trouble yields nil.
type FollowUpGenerator interface {
	Generate(ctx context.Context, answers []Answer) []Question
}

// Recommendations is the compiled outcome of a finished interview.
type Recommendations struct {
	RecommendedDoctor string   `json:"recommendedDoctor"`
	Precautions       []string `json:"precautions"`
}

// ReportCompiler turns the final answers into recommendations. A failure
// is non-fatal to the session; it simply ends without recommendations.
type ReportCompiler interface {
	Compile(ctx context.Context, sessionID string, answers []Answer) (Recommendations, error)
}
