// Package report turns a finished intake interview into doctor and
// precaution recommendations and archives the result.
package report

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/Abhinav-676/telehealth-landing/internal/intake"
	"github.com/Abhinav-676/telehealth-landing/internal/llm"
)

const compilerSystemPrompt = "You are a JSON-only API. Output ONLY valid JSON."

// Compiler builds recommendations from the collected answers with a
// remote model and, when an archive is configured, stores the full report
// as JSON. Archive failures are logged, not returned: the patient still
// gets their recommendations.
type Compiler struct {
	Client  *llm.OpenRouterClient
	Archive *Archive
	Timeout time.Duration
}

func NewCompiler(client *llm.OpenRouterClient, archive *Archive) *Compiler {
	return &Compiler{Client: client, Archive: archive, Timeout: 30 * time.Second}
}

func (c *Compiler) Compile(ctx context.Context, sessionID string, answers []intake.Answer) (intake.Recommendations, error) {
	var data strings.Builder
	for _, a := range answers {
		fmt.Fprintf(&data, "- %s: %q\n", a.Field, a.Text)
	}

	prompt := fmt.Sprintf(`You are a medical triage assistant.
A patient completed an intake interview with the following information:
%s
Based on this information:
1. Recommend the single most appropriate type of doctor or specialist to consult (e.g. "General Practitioner", "Neurologist", "Cardiologist"). When in doubt, recommend a General Practitioner.
2. List 2 to 5 short precautionary measures the patient should take until they see the doctor.

Output strictly a JSON object:
{
    "recommendedDoctor": "string",
    "precautions": ["string", "string"]
}

Do not include any markdown formatting or explanations. Just the JSON object.`, data.String())

	callCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	content, err := c.Client.GenerateJSON(callCtx, compilerSystemPrompt, prompt, 0.2)
	if err != nil {
		return intake.Recommendations{}, fmt.Errorf("compile report: %w", err)
	}

	var recs intake.Recommendations
	if err := llm.UnmarshalModelJSON(content, &recs); err != nil {
		return intake.Recommendations{}, fmt.Errorf("compile report: unparseable response: %w", err)
	}
	if recs.RecommendedDoctor == "" {
		recs.RecommendedDoctor = "General Practitioner"
	}

	if c.Archive != nil {
		if err := c.Archive.Store(sessionID, answers, recs); err != nil {
			log.Printf("report[%s]: archive failed: %v", sessionID, err)
		}
	}
	return recs, nil
}
