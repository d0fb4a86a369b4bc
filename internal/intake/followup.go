package intake

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Abhinav-676/telehealth-landing/internal/llm"
)

// MaxFollowUps caps how many generated questions are spliced into one
// interview.
const MaxFollowUps = 4

// LLMFollowUpGenerator asks a remote model for follow-up questions based on
// the answers collected so far. Any failure degrades to zero follow-ups;
// the interview proceeds with the original list.
type LLMFollowUpGenerator struct {
	Client  *llm.OpenRouterClient
	Timeout time.Duration
}

func NewLLMFollowUpGenerator(client *llm.OpenRouterClient) *LLMFollowUpGenerator {
	return &LLMFollowUpGenerator{Client: client, Timeout: 20 * time.Second}
}

func (g *LLMFollowUpGenerator) Generate(ctx context.Context, answers []Answer) []Question {
	var data strings.Builder
	for _, a := range answers {
		fmt.Fprintf(&data, "- %s: %q\n", a.Field, a.Text)
	}

	prompt := fmt.Sprintf(`You are a medical intake assistant.
The patient has provided the following information so far:
%s
Based on this information (especially the Symptoms, Severity, and Duration), generate up to %d relevant follow-up questions to gather more clinical context.

Focus on:
- Specific nature of the symptoms (e.g. sharp vs dull pain)
- Triggers or relieving factors
- Associated symptoms
- Clarifying any ambiguous previous answers

Output strictly a JSON array of objects with the following structure:
[
    { "id": "q_unique_id", "text": "Question text here", "field": "Short Label for Report" }
]

Do not duplicate questions that have effectively already been asked/answered in the data above.
Do not include any markdown formatting or explanations. Just the JSON array.`, data.String(), MaxFollowUps)

	callCtx, cancel := context.WithTimeout(ctx, g.Timeout)
	defer cancel()
	content, err := g.Client.GenerateJSON(callCtx, validatorSystemPrompt, prompt, 0.2)
	if err != nil {
		log.Printf("generate follow-ups: %v (continuing without)", err)
		return nil
	}
	return parseFollowUps(content)
}

// parseFollowUps decodes a model response into at most MaxFollowUps
// questions. It tolerates a fenced payload and an array wrapped in an
// object under a "questions" key; anything else yields nil.
func parseFollowUps(content string) []Question {
	var raw []Question
	if err := llm.UnmarshalModelJSON(content, &raw); err != nil {
		var wrapped struct {
			Questions []Question `json:"questions"`
		}
		if werr := llm.UnmarshalModelJSON(content, &wrapped); werr != nil || wrapped.Questions == nil {
			// Last resort: a lone object instead of an array.
			var one Question
			if oerr := llm.UnmarshalModelJSON(content, &one); oerr == nil && one.Text != "" {
				raw = []Question{one}
			} else {
				log.Printf("generate follow-ups: malformed payload (continuing without)")
				return nil
			}
		} else {
			raw = wrapped.Questions
		}
	}

	out := make([]Question, 0, MaxFollowUps)
	for i, q := range raw {
		if strings.TrimSpace(q.Text) == "" {
			continue
		}
		if q.ID == "" {
			q.ID = "follow_up_" + uuid.NewString()
		}
		if q.Field == "" {
			q.Field = fmt.Sprintf("Follow-up %d", i+1)
		}
		out = append(out, q)
		if len(out) == MaxFollowUps {
			break
		}
	}
	return out
}
