// Package wire implements the line-based request/response framing: one
// whitespace-separated command per line in, one reply line out.
package wire

import "strings"

// Tokenize splits a request line into a verb and its arguments (spec
// §6.1). An empty or whitespace-only line yields an empty verb.
func Tokenize(line string) (verb string, args []string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}

// FormatReply appends the trailing newline every reply carries on the
// wire (spec §6.1). Handlers return the category/payload text alone;
// this is the one place the protocol's framing byte gets added.
func FormatReply(reply string) string {
	return reply + "\n"
}
