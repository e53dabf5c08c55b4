// Package parser turns a raw command string into an ordered pipeline of
// argument vectors. Splitting happens at unquoted pipe characters; each
// segment is tokenized with conventional shell word-splitting semantics
// (single quotes literal, double quotes with backslash escapes, backslash
// escaping outside quotes). Nothing here consults the security policy; the
// parser's only job is producing the exact argv lists that will execute.
package parser

import (
	"strings"

	"github.com/clawinfra/kubeclaw/internal/types"
)

// Stage is one pipe-delimited segment of a command: a program name followed
// by its arguments.
type Stage struct {
	Argv []string
}

// Program returns the stage's program name.
func (s Stage) Program() string {
	if len(s.Argv) == 0 {
		return ""
	}
	return s.Argv[0]
}

// Limits bound what the parser accepts.
type Limits struct {
	MaxLength int
	MaxStages int
}

// Parse splits raw into pipeline stages. Every failure is a MalformedCommand
// error; the caller treats it as a terminal denial.
func Parse(raw string, limits Limits) ([]Stage, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, types.NewCommandError(types.CodeMalformedCommand, "empty command")
	}
	if limits.MaxLength > 0 && len(raw) > limits.MaxLength {
		return nil, types.NewCommandError(types.CodeMalformedCommand,
			"command length %d exceeds maximum %d", len(raw), limits.MaxLength)
	}

	segments, err := SplitPipeline(raw)
	if err != nil {
		return nil, err
	}
	if limits.MaxStages > 0 && len(segments) > limits.MaxStages {
		return nil, types.NewCommandError(types.CodeMalformedCommand,
			"pipeline has %d stages, maximum is %d", len(segments), limits.MaxStages)
	}

	stages := make([]Stage, 0, len(segments))
	for i, seg := range segments {
		argv, err := Tokenize(seg)
		if err != nil {
			return nil, err
		}
		if len(argv) == 0 {
			return nil, types.NewCommandError(types.CodeMalformedCommand,
				"empty command at position %d in pipeline", i+1)
		}
		stages = append(stages, Stage{Argv: argv})
	}
	return stages, nil
}

// SplitPipeline splits a command at unquoted pipe characters. Quoting state
// carries across the whole string, so a pipe inside a jq program stays part
// of its stage.
func SplitPipeline(raw string) ([]string, error) {
	var segments []string
	var current strings.Builder
	var inSingle, inDouble, escaped bool

	for _, r := range raw {
		switch {
		case escaped:
			current.WriteRune('\\')
			current.WriteRune(r)
			escaped = false
		case r == '\\' && !inSingle:
			escaped = true
		case r == '\'' && !inDouble:
			inSingle = !inSingle
			current.WriteRune(r)
		case r == '"' && !inSingle:
			inDouble = !inDouble
			current.WriteRune(r)
		case r == '|' && !inSingle && !inDouble:
			segments = append(segments, current.String())
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	if escaped {
		current.WriteRune('\\')
	}
	if inSingle || inDouble {
		return nil, types.NewCommandError(types.CodeMalformedCommand, "unbalanced quotes in command")
	}
	segments = append(segments, current.String())
	return segments, nil
}

// Tokenize splits one pipeline segment into an argument vector.
func Tokenize(segment string) ([]string, error) {
	var argv []string
	var word strings.Builder
	haveWord := false
	var inSingle, inDouble, escaped, escapedInDouble bool

	flush := func() {
		if haveWord {
			argv = append(argv, word.String())
			word.Reset()
			haveWord = false
		}
	}

	for _, r := range segment {
		switch {
		case escaped:
			// Inside double quotes a backslash only escapes the characters
			// that are special there; before anything else it stays literal.
			if escapedInDouble && !doubleQuoteEscapable(r) {
				word.WriteRune('\\')
			}
			word.WriteRune(r)
			haveWord = true
			escaped = false
			escapedInDouble = false
		case inSingle:
			if r == '\'' {
				inSingle = false
			} else {
				word.WriteRune(r)
			}
		case inDouble:
			switch r {
			case '"':
				inDouble = false
			case '\\':
				escaped = true
				escapedInDouble = true
			default:
				word.WriteRune(r)
			}
		case r == '\\':
			escaped = true
			haveWord = true
		case r == '\'':
			inSingle = true
			haveWord = true
		case r == '"':
			inDouble = true
			haveWord = true
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			flush()
		default:
			word.WriteRune(r)
			haveWord = true
		}
	}
	if escaped {
		return nil, types.NewCommandError(types.CodeMalformedCommand, "trailing backslash in command")
	}
	if inSingle || inDouble {
		return nil, types.NewCommandError(types.CodeMalformedCommand, "unbalanced quotes in command")
	}
	flush()
	return argv, nil
}

func doubleQuoteEscapable(r rune) bool {
	switch r {
	case '$', '`', '"', '\\':
		return true
	}
	return false
}
