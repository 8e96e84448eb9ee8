package form

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestAnswerBool(t *testing.T) {
	if b, ok := BoolAnswer(true).Bool(); !ok || !b {
		t.Error("Expected true boolean answer")
	}
	if b, ok := ScalarAnswer("no").Bool(); !ok || b {
		t.Error("Expected no to parse as false")
	}
	if _, ok := ScalarAnswer("maybe").Bool(); ok {
		t.Error("Expected maybe to not parse as boolean")
	}
	if _, ok := ListAnswer("true").Bool(); ok {
		t.Error("Expected list answer to not parse as boolean")
	}
}

func TestAnswerEqual(t *testing.T) {
	if !ScalarAnswer("x").Equal(ScalarAnswer("x")) {
		t.Error("Expected equal scalars")
	}
	if ScalarAnswer("x").Equal(ListAnswer("x")) {
		t.Error("Expected scalar != list")
	}
	if !ListAnswer("a", "b").Equal(ListAnswer("b", "a")) {
		t.Error("Expected list equality to ignore order")
	}
	if ListAnswer("a").Equal(ListAnswer("a", "b")) {
		t.Error("Expected different lengths to differ")
	}
}

func TestAnswerJSONRoundTrip(t *testing.T) {
	cases := map[string]Answer{
		`"main"`:      ScalarAnswer("main"),
		`["go","py"]`: ListAnswer("go", "py"),
	}
	for raw, want := range cases {
		var got Answer
		if err := json.Unmarshal([]byte(raw), &got); err != nil {
			t.Fatalf("unmarshal %s: %v", raw, err)
		}
		if !got.Equal(want) {
			t.Errorf("unmarshal %s = %v, want %v", raw, got, want)
		}

		data, err := json.Marshal(got)
		if err != nil {
			t.Fatalf("marshal %v: %v", got, err)
		}
		var back Answer
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("re-unmarshal %s: %v", data, err)
		}
		if !back.Equal(want) {
			t.Errorf("round trip %s = %v, want %v", raw, back, want)
		}
	}
}

func TestAnswerJSONBool(t *testing.T) {
	var a Answer
	if err := json.Unmarshal([]byte(`true`), &a); err != nil {
		t.Fatalf("unmarshal bool: %v", err)
	}
	if b, ok := a.Bool(); !ok || !b {
		t.Errorf("Expected true, got %v", a)
	}

	if err := json.Unmarshal([]byte(`42`), &a); err == nil {
		t.Error("Expected error for numeric answer")
	}
}

func TestTerminalAskerParsing(t *testing.T) {
	input := strings.NewReader("y\nfull\ngo, rust\nrelease-1.2\n")
	var out strings.Builder
	asker := NewTerminalAskerIO(input, &out)

	batch := []Question{
		{ID: "run_tests", Prompt: "Run tests?", Type: QuestionBool},
		{ID: "security_scan", Prompt: "Scan?", Type: QuestionChoice, Options: []string{"basic", "full"}},
		{ID: "languages", Prompt: "Languages?", Type: QuestionMultiChoice, Options: []string{"go", "rust"}},
		{ID: "target_branch", Prompt: "Branch?", Type: QuestionText},
	}

	answers, err := asker.Ask(context.Background(), batch)
	if err != nil {
		t.Fatalf("Ask returned error: %v", err)
	}

	if b, ok := answers["run_tests"].Bool(); !ok || !b {
		t.Errorf("Expected run_tests true, got %v", answers["run_tests"])
	}
	if answers["security_scan"].Scalar != "full" {
		t.Errorf("Expected full, got %v", answers["security_scan"])
	}
	if !answers["languages"].Equal(ListAnswer("go", "rust")) {
		t.Errorf("Expected go+rust, got %v", answers["languages"])
	}
	if answers["target_branch"].Scalar != "release-1.2" {
		t.Errorf("Expected release-1.2, got %v", answers["target_branch"])
	}

	if !strings.Contains(out.String(), "Run tests?") {
		t.Error("Expected prompt text in output")
	}
}

func TestTerminalAskerEmptyInputUsesDefault(t *testing.T) {
	input := strings.NewReader("\n")
	var out strings.Builder
	asker := NewTerminalAskerIO(input, &out)

	def := ScalarAnswer("basic")
	batch := []Question{
		{ID: "security_scan", Prompt: "Scan?", Type: QuestionChoice, Options: []string{"basic", "full"}, Default: &def},
	}

	answers, err := asker.Ask(context.Background(), batch)
	if err != nil {
		t.Fatalf("Ask returned error: %v", err)
	}
	if _, ok := answers["security_scan"]; ok {
		t.Error("Expected empty input to leave the answer unset for default fill")
	}
}
