// Package parser turns loosely formatted credential lines into structured
// records.
//
// Two entry points exist:
//
//   - ParseLine handles one line of a status file or of the primary
//     accounts file. Fields are assigned by position after a delimiter is
//     picked from a fixed priority list.
//   - ParseRemark handles the remark of an inventory profile, which mixes
//     positional and shape-based classification.
//
// Neither function validates email syntax.
package parser

import (
	"regexp"
	"strings"
)

// Separator is the canonical field delimiter written by exports.
const Separator = "----"

// delimiterPriority is consulted in order when Separator does not occur.
var delimiterPriority = []string{"---", "|", ",", ";", "\t"}

var linkPattern = regexp.MustCompile(`https?://\S+`)

// Record is the result of parsing a line. Absent fields are nil.
type Record struct {
	Email         *string
	Password      *string
	RecoveryEmail *string
	SecretKey     *string
	Link          *string
}

// Empty reports whether the record carries no email.
func (r Record) Empty() bool {
	return r.Email == nil || *r.Email == ""
}

// EmailValue returns the email or "".
func (r Record) EmailValue() string {
	if r.Email == nil {
		return ""
	}
	return *r.Email
}

// Delimiter is the outcome of delimiter detection.
// Matched is false when none of the known tokens occurs in the line; Token is
// then Separator and splitting yields the whole line as one fragment.
type Delimiter struct {
	Token   string
	Matched bool
}

// DetectDelimiter picks the delimiter for line: Separator when present,
// otherwise the first token of the priority list that occurs.
func DetectDelimiter(line string) Delimiter {
	if strings.Contains(line, Separator) {
		return Delimiter{Token: Separator, Matched: true}
	}
	for _, tok := range delimiterPriority {
		if strings.Contains(line, tok) {
			return Delimiter{Token: tok, Matched: true}
		}
	}
	return Delimiter{Token: Separator}
}

// StripComment drops everything from the first '#' and trims the rest.
func StripComment(line string) string {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	return strings.TrimSpace(line)
}

// ParseLine parses one line of the form
//
//	[link]email<d>password<d>recovery_email<d>secret_key  # comment
//
// The link may appear anywhere in the line.
func ParseLine(line string) Record {
	var rec Record

	line = StripComment(line)
	if line == "" {
		return rec
	}

	if link := linkPattern.FindString(line); link != "" {
		// A link never spans a field boundary.
		if i := strings.Index(link, Separator); i >= 0 {
			link = link[:i]
		}
		rec.Link = &link
		line = strings.TrimSpace(strings.Replace(line, link, "", 1))
	}

	delim := DetectDelimiter(line)
	parts := splitFields(line, delim.Token)

	slots := []**string{&rec.Email, &rec.Password, &rec.RecoveryEmail, &rec.SecretKey}
	for i, slot := range slots {
		if i >= len(parts) {
			break
		}
		v := parts[i]
		*slot = &v
	}
	return rec
}

// splitFields splits s on sep, trims every fragment and drops empty ones.
func splitFields(s, sep string) []string {
	raw := strings.Split(s, sep)
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
