package common

import (
	"regexp"
	"strings"
)

const redactedValue = "***"

// keyValuePattern matches redaction patterns (spec §3): key=value forms
// where the key names a credential-shaped field.
var keyValuePattern = regexp.MustCompile(`(?i)^(token|password|secret|api[_-]?key|auth)=`)

// pairFlags are the adjacent-pair forms whose following argument is the
// sensitive value (spec §3): true means "replace the whole value", false
// means "the value is itself a header line, apply header redaction to it".
var pairFlags = map[string]bool{
	"--password": true,
	"-p":         true,
	"--token":    true,
	"--apikey":   true,
	"-H":         false,
	"--header":   false,
}

// RedactArgv returns a copy of argv with sensitive values replaced per spec
// §3, unless raw is true (the log-options carrier explicitly disabled
// redaction for this process).
func RedactArgv(argv []string, raw bool) []string {
	if raw {
		out := make([]string, len(argv))
		copy(out, argv)
		return out
	}

	out := make([]string, 0, len(argv))
	pendingHeader := false
	pendingFull := false
	for _, arg := range argv {
		if pendingHeader {
			if header, ok := redactAuthorizationHeader(arg); ok {
				out = append(out, header)
			} else {
				out = append(out, arg)
			}
			pendingHeader = false
			continue
		}
		if pendingFull {
			out = append(out, redactedValue)
			pendingFull = false
			continue
		}
		if wholeValue, isPair := pairFlags[arg]; isPair {
			out = append(out, arg)
			if wholeValue {
				pendingFull = true
			} else {
				pendingHeader = true
			}
			continue
		}
		if keyValuePattern.MatchString(arg) {
			idx := strings.IndexByte(arg, '=')
			out = append(out, arg[:idx+1]+redactedValue)
			continue
		}
		if header, ok := redactAuthorizationHeader(arg); ok {
			out = append(out, header)
			continue
		}
		out = append(out, arg)
	}
	return out
}

// redactAuthorizationHeader handles the literal "Authorization: <value>"
// header form (spec §3): anything after the first colon is replaced.
func redactAuthorizationHeader(arg string) (string, bool) {
	const prefix = "authorization:"
	if len(arg) < len(prefix) || !strings.EqualFold(arg[:len(prefix)], prefix) {
		return "", false
	}
	return arg[:len(prefix)] + " " + redactedValue, true
}
