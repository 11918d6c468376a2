package core

import (
	"context"
	"errors"
	"testing"

	"github.com/paolomoz/nova/internal/llm/llmtest"
)

func TestClassifyHeuristic(t *testing.T) {
	cases := []struct {
		prompt string
		want   Mode
	}{
		{"list all pages under /en", ModeSingle},
		{"", ModeSingle},
		{"Update the hero on /en/index", ModeSingle},
		{"Create a page for the launch and then link it from the blog", ModeMulti},
		{"Please:\n1. read /a\n2. read /b", ModeMulti},
		{"Copy /en/about to /de/about and translate it", ModeMulti},
		{"Add a footer to every page", ModeMulti},
		{"How many pages mention pricing?", ModeSingle},
	}
	for _, tc := range cases {
		if got := classifyHeuristic(tc.prompt); got != tc.want {
			t.Errorf("%q: expected %s, got %s", tc.prompt, tc.want, got)
		}
	}
}

func TestClassifyWithModel(t *testing.T) {
	c := NewClassifier(llmtest.NewScripted(llmtest.Text(" Multi\n")), "fast", true)
	if got := c.Classify(context.Background(), "read /a"); got != ModeMulti {
		t.Fatalf("expected model verdict multi, got %s", got)
	}

	c = NewClassifier(llmtest.NewScripted(llmtest.Text("no idea")), "fast", true)
	if got := c.Classify(context.Background(), "create /a and then delete /b"); got != ModeSingle {
		t.Fatalf("unrecognised verdict should default to single, got %s", got)
	}

	c = NewClassifier(llmtest.NewScripted(llmtest.Fail(errors.New("down"))), "fast", true)
	if got := c.Classify(context.Background(), "create /a and then delete /b"); got != ModeMulti {
		t.Fatalf("provider failure should fall back to heuristic, got %s", got)
	}

	if c := NewClassifier(nil, "", true); c.useLLM {
		t.Fatalf("nil client must disable the model classifier")
	}
}
