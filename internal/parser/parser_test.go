package parser

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/clawinfra/kubeclaw/internal/types"
)

func mustParse(t *testing.T, raw string) []Stage {
	t.Helper()
	stages, err := Parse(raw, Limits{MaxLength: 2048, MaxStages: 5})
	if err != nil {
		t.Fatalf("Parse(%q): %v", raw, err)
	}
	return stages
}

func assertMalformed(t *testing.T, raw string) {
	t.Helper()
	_, err := Parse(raw, Limits{MaxLength: 2048, MaxStages: 5})
	var cmdErr *types.CommandError
	if !errors.As(err, &cmdErr) || cmdErr.Code != types.CodeMalformedCommand {
		t.Fatalf("Parse(%q) = %v, want MalformedCommand", raw, err)
	}
}

func TestParseSingleStage(t *testing.T) {
	stages := mustParse(t, "kubectl get pods -o json")
	if len(stages) != 1 {
		t.Fatalf("got %d stages, want 1", len(stages))
	}
	want := []string{"kubectl", "get", "pods", "-o", "json"}
	if !reflect.DeepEqual(stages[0].Argv, want) {
		t.Errorf("argv = %v, want %v", stages[0].Argv, want)
	}
}

func TestParsePipeline(t *testing.T) {
	stages := mustParse(t, "kubectl get pods -o json | jq '.items[].metadata.name' | wc -l")
	if len(stages) != 3 {
		t.Fatalf("got %d stages, want 3", len(stages))
	}
	if stages[0].Program() != "kubectl" || stages[1].Program() != "jq" || stages[2].Program() != "wc" {
		t.Errorf("programs = %s/%s/%s", stages[0].Program(), stages[1].Program(), stages[2].Program())
	}
	if stages[1].Argv[1] != ".items[].metadata.name" {
		t.Errorf("jq argument = %q, quotes should be stripped", stages[1].Argv[1])
	}
}

func TestParsePipeInsideQuotesIsNotASplit(t *testing.T) {
	stages := mustParse(t, `kubectl get pods -o json | jq '.items[] | .metadata.name'`)
	if len(stages) != 2 {
		t.Fatalf("got %d stages, want 2: pipe inside single quotes must not split", len(stages))
	}
	if stages[1].Argv[1] != ".items[] | .metadata.name" {
		t.Errorf("jq program = %q", stages[1].Argv[1])
	}
}

func TestParseEscapedPipe(t *testing.T) {
	stages := mustParse(t, `echo a\|b`)
	if len(stages) != 1 {
		t.Fatalf("got %d stages, want 1", len(stages))
	}
	if stages[0].Argv[1] != "a|b" {
		t.Errorf("argv[1] = %q, want a|b", stages[0].Argv[1])
	}
}

func TestTokenizeQuoting(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{`kubectl get pods`, []string{"kubectl", "get", "pods"}},
		{`grep "hello world"`, []string{"grep", "hello world"}},
		{`grep 'it''s'`, []string{"grep", "its"}},
		{`echo "a \"quoted\" word"`, []string{"echo", `a "quoted" word`}},
		{`echo "a\b"`, []string{"echo", `a\b`}},
		{`echo "a\\b"`, []string{"echo", `a\b`}},
		{`echo "a\$b"`, []string{"echo", "a$b"}},
		{`echo a\ b`, []string{"echo", "a b"}},
		{`echo ""`, []string{"echo", ""}},
		{`  spaced   out  `, []string{"spaced", "out"}},
		{`kubectl label pod web app="front end"`, []string{"kubectl", "label", "pod", "web", "app=front end"}},
	}
	for _, tt := range tests {
		got, err := Tokenize(tt.in)
		if err != nil {
			t.Errorf("Tokenize(%q): %v", tt.in, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Tokenize(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseMalformed(t *testing.T) {
	assertMalformed(t, "")
	assertMalformed(t, "   ")
	assertMalformed(t, `kubectl get "pods`)
	assertMalformed(t, `kubectl get 'pods`)
	assertMalformed(t, `kubectl get pods \`)
	assertMalformed(t, "kubectl get pods | | wc -l")
	assertMalformed(t, "kubectl get pods |")
}

func TestParseTooManyStages(t *testing.T) {
	raw := "kubectl get pods | grep a | grep b | grep c | grep d | grep e"
	assertMalformed(t, raw)
}

func TestParseOverLength(t *testing.T) {
	raw := "kubectl get " + strings.Repeat("x", 4096)
	assertMalformed(t, raw)
}

func TestSplitPipelinePreservesEscapes(t *testing.T) {
	segments, err := SplitPipeline(`kubectl get pods | grep foo\|bar`)
	if err != nil {
		t.Fatal(err)
	}
	if len(segments) != 2 {
		t.Fatalf("got %d segments, want 2", len(segments))
	}
	argv, err := Tokenize(segments[1])
	if err != nil {
		t.Fatal(err)
	}
	if argv[1] != "foo|bar" {
		t.Errorf("argv[1] = %q, want foo|bar", argv[1])
	}
}
