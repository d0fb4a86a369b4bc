package intake

import "testing"

func TestDefaultQuestions(t *testing.T) {
	qs := DefaultQuestions()
	if len(qs) != 7 {
		t.Fatalf("expected 7 seed questions, got %d", len(qs))
	}
	var pivot bool
	seen := make(map[string]bool)
	for _, q := range qs {
		if seen[q.ID] {
			t.Fatalf("duplicate question id %q", q.ID)
		}
		seen[q.ID] = true
		if q.Text == "" || q.Field == "" {
			t.Fatalf("incomplete question %+v", q)
		}
		if q.ID == DefaultPivotQuestionID {
			pivot = true
		}
	}
	if !pivot {
		t.Fatalf("seed list missing pivot question %q", DefaultPivotQuestionID)
	}
}

func TestSpliceQuestions_InsertsAfterIndex(t *testing.T) {
	list := []Question{
		{ID: "a", Text: "A", Field: "A"},
		{ID: "b", Text: "B", Field: "B"},
		{ID: "c", Text: "C", Field: "C"},
	}
	out := spliceQuestions(list, 1, []Question{
		{ID: "x", Text: "X", Field: "X"},
		{ID: "y", Text: "Y", Field: "Y"},
	})
	want := []string{"a", "b", "x", "y", "c"}
	if len(out) != len(want) {
		t.Fatalf("expected %d questions, got %d", len(want), len(out))
	}
	for i, id := range want {
		if out[i].ID != id {
			t.Fatalf("position %d: expected %q, got %q", i, id, out[i].ID)
		}
	}
}

func TestSpliceQuestions_DropsDuplicatesAndEmpties(t *testing.T) {
	list := []Question{
		{ID: "a", Text: "A", Field: "A"},
		{ID: "b", Text: "B", Field: "B"},
	}
	out := spliceQuestions(list, 0, []Question{
		{ID: "a", Text: "dup of a", Field: "A"},
		{ID: "", Text: "no id", Field: "X"},
		{ID: "x", Text: "", Field: "X"},
	})
	if len(out) != len(list) {
		t.Fatalf("expected list unchanged, got %d questions", len(out))
	}
}

func TestSpliceQuestions_NeverShrinks(t *testing.T) {
	list := []Question{{ID: "a", Text: "A", Field: "A"}}
	if out := spliceQuestions(list, 0, nil); len(out) != 1 {
		t.Fatalf("expected list unchanged for nil extras, got %d", len(out))
	}
}
