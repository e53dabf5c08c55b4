package security

import "fmt"

// ScanSyntax rejects raw command strings containing unquoted shell
// metacharacters other than the pipe operator. The engine never hands a
// command to a shell, but these characters signal an attempt to escape the
// declared pipeline model and are denied outright. Quoting is honored: a
// semicolon inside a jq program is data, not syntax.
func ScanSyntax(raw string) error {
	var inSingle, inDouble, escaped bool
	runes := []rune(raw)

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case escaped:
			escaped = false
		case r == '\\' && !inSingle:
			escaped = true
		case r == '\'' && !inDouble:
			inSingle = !inSingle
		case r == '"' && !inSingle:
			inDouble = !inDouble
		case inSingle || inDouble:
			// quoted content is inert
		case r == ';', r == '`', r == '>', r == '<', r == '&':
			return fmt.Errorf("unquoted shell metacharacter %q is not allowed", string(r))
		case r == '$' && i+1 < len(runes) && runes[i+1] == '(':
			return fmt.Errorf("command substitution $(...) is not allowed")
		case r == '|' && i+1 < len(runes) && runes[i+1] == '|':
			return fmt.Errorf("logical OR operator %q is not allowed", "||")
		}
	}
	return nil
}
