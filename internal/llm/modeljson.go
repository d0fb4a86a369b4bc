package llm

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// UnmarshalModelJSON decodes JSON produced by a language model. Models
// sometimes wrap output in markdown fences or emit slightly broken JSON
// despite JSON-mode instructions, so fences are stripped first and a
// repair pass is attempted before giving up.
func UnmarshalModelJSON(content string, v any) error {
	clean := strings.TrimSpace(content)
	clean = strings.ReplaceAll(clean, "```json", "")
	clean = strings.ReplaceAll(clean, "```", "")
	clean = strings.TrimSpace(clean)

	err := json.Unmarshal([]byte(clean), v)
	if err == nil {
		return nil
	}
	fixed, rerr := jsonrepair.JSONRepair(clean)
	if rerr != nil {
		return err
	}
	return json.Unmarshal([]byte(fixed), v)
}
