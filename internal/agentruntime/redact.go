package agentruntime

import (
	"regexp"
	"strconv"
	"strings"
)

// secretFlagPattern matches a flag name commonly associated with a secret
// value (api-key, token, secret, password, authorization, bearer).
var secretFlagPattern = regexp.MustCompile(`(?i)^--?(api[-_]?key|token|secret|password|authorization|bearer)$`)

// secretFlagEqualsPattern matches the --flag=value form of the above.
var secretFlagEqualsPattern = regexp.MustCompile(`(?i)^--?(api[-_]?key|token|secret|password|authorization|bearer)=(.*)$`)

// knownSecretPrefixes are literal prefixes that, on their own, mark a value
// as a secret regardless of which flag it followed.
var knownSecretPrefixes = []string{"sk-", "ghp_", "glpat-"}

// base64ishPattern matches a long run of base64/hex-ish characters, a
// common shape for opaque tokens.
var base64ishPattern = regexp.MustCompile(`^[A-Za-z0-9+/_=-]{32,}$`)

// RedactArgs returns a copy of args with secret-shaped values replaced by a
// redaction sentinel, suitable for inclusion in a spawn log line.
func RedactArgs(args []string) []string {
	out := make([]string, len(args))

	prevWasSecretFlag := false
	for i, arg := range args {
		switch {
		case secretFlagEqualsPattern.MatchString(arg):
			out[i] = strings.SplitN(arg, "=", 2)[0] + "=[REDACTED]"
			prevWasSecretFlag = false

		case secretFlagPattern.MatchString(arg):
			out[i] = arg
			prevWasSecretFlag = true

		case prevWasSecretFlag:
			out[i] = "[REDACTED]"
			prevWasSecretFlag = false

		case len(arg) > 200:
			out[i] = sprintfRedactedLength(len(arg))

		case isKnownSecretValue(arg):
			out[i] = "[REDACTED]"

		default:
			out[i] = arg
		}
	}

	return out
}

func isKnownSecretValue(v string) bool {
	for _, prefix := range knownSecretPrefixes {
		if strings.HasPrefix(v, prefix) {
			return true
		}
	}
	return base64ishPattern.MatchString(v)
}

func sprintfRedactedLength(n int) string {
	return "[REDACTED:" + strconv.Itoa(n) + "]"
}
