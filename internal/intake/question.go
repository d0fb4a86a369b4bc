package intake

// Question is one interview prompt. ID is unique within a session, Text is
// what the patient hears, Field labels the answer in the final report.
// Questions are never mutated once created.
type Question struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Field string `json:"field"`
}

// DefaultPivotQuestionID marks the question whose accepted answer triggers
// follow-up generation when no pivot is configured.
const DefaultPivotQuestionID = "severity"

// DefaultQuestions returns the seed interview. Ordering is significant:
// insertion order is interview order.
func DefaultQuestions() []Question {
	return []Question{
		{
			ID:    "name",
			Text:  "Hello! I'm Dr. Sarah. To get started, could you please tell me your full name?",
			Field: "Name",
		},
		{ID: "age", Text: "Thank you. And how old are you?", Field: "Age"},
		{
			ID:    "symptoms",
			Text:  "What are the main symptoms you are experiencing today?",
			Field: "Symptoms",
		},
		{
			ID:    "duration",
			Text:  "How long have you been experiencing these symptoms?",
			Field: "Duration",
		},
		{
			ID:    "severity",
			Text:  "On a scale of 1 to 10, how severe would you rate your discomfort?",
			Field: "Severity",
		},
		{
			ID:    "medications",
			Text:  "Are you currently taking any medications?",
			Field: "Current Medications",
		},
		{
			ID:    "allergies",
			Text:  "Do you have any known allergies?",
			Field: "Allergies",
		},
	}
}

// spliceQuestions inserts extras into list immediately after position idx,
// dropping any extra whose id already exists in the list. The list only
// ever grows.
func spliceQuestions(list []Question, idx int, extras []Question) []Question {
	if len(extras) == 0 {
		return list
	}
	seen := make(map[string]struct{}, len(list))
	for _, q := range list {
		seen[q.ID] = struct{}{}
	}
	keep := make([]Question, 0, len(extras))
	for _, q := range extras {
		if q.ID == "" || q.Text == "" {
			continue
		}
		if _, dup := seen[q.ID]; dup {
			continue
		}
		seen[q.ID] = struct{}{}
		keep = append(keep, q)
	}
	if len(keep) == 0 {
		return list
	}
	out := make([]Question, 0, len(list)+len(keep))
	out = append(out, list[:idx+1]...)
	out = append(out, keep...)
	out = append(out, list[idx+1:]...)
	return out
}
