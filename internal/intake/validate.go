package intake

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/Abhinav-676/telehealth-landing/internal/llm"
)

// DefaultRepromptText is spoken when an answer is rejected without
// specific feedback.
const DefaultRepromptText = "I didn't quite catch that. Could you please repeat?"

const validatorSystemPrompt = "You are a JSON-only API. Output ONLY valid JSON."

// LLMValidator judges answers with a remote language model. The policy is
// deliberately fail-open: a transient backend failure must never block the
// interview, so any error reports the answer as valid.
type LLMValidator struct {
	Client  *llm.OpenRouterClient
	Timeout time.Duration
}

func NewLLMValidator(client *llm.OpenRouterClient) *LLMValidator {
	return &LLMValidator{Client: client, Timeout: 15 * time.Second}
}

func (v *LLMValidator) Validate(ctx context.Context, question Question, answer string) ValidationResult {
	prompt := fmt.Sprintf(`You are a medical intake assistant validator.

Context:
The AI assistant asked the patient: %q
The patient answered: %q

Task:
Determine if the patient's answer is a valid and relevant response to the question.
- Valid answers: Direct answers, relevant information, even if brief.
- Invalid answers: Gibberish, silence placeholders (like "dots"), completely unrelated non-sequiturs, or clear refusals to answer without reason.

Note: If the answer is just "no", "yes", "none", or simple numbers where appropriate, those ARE valid.

Output strictly a JSON object:
{
    "isValid": boolean,
    "feedback": "string (optional, only if invalid. A polite, short sentence asking the user to clarify or repeat. e.g. 'I didn't quite catch that, could you please repeat?')"
}`, question.Text, answer)

	callCtx, cancel := context.WithTimeout(ctx, v.Timeout)
	defer cancel()
	content, err := v.Client.GenerateJSON(callCtx, validatorSystemPrompt, prompt, 0.1)
	if err != nil {
		log.Printf("validate answer: %v (failing open)", err)
		return ValidationResult{IsValid: true}
	}

	var res ValidationResult
	if err := llm.UnmarshalModelJSON(content, &res); err != nil {
		log.Printf("validate answer: unparseable response: %v (failing open)", err)
		return ValidationResult{IsValid: true}
	}
	return res
}
