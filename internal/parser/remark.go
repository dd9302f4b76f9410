package parser

import "strings"

// ParseRemark parses the remark of an inventory profile.
//
// When the first Separator-delimited segment contains '@' it is the email and
// the second segment the password. Every later segment is classified by
// shape: containing both '@' and '.' makes it the recovery email, anything
// else the secret key. The last segment of each kind wins.
//
// A remark whose first segment has no '@' is handed to ParseLine.
func ParseRemark(remark string) Record {
	remark = strings.TrimSpace(remark)
	parts := strings.Split(remark, Separator)
	if !strings.Contains(parts[0], "@") {
		return ParseLine(remark)
	}

	var rec Record
	email := strings.TrimSpace(parts[0])
	rec.Email = &email

	if len(parts) < 2 {
		return rec
	}
	pw := strings.TrimSpace(parts[1])
	rec.Password = &pw

	for _, part := range parts[2:] {
		p := strings.TrimSpace(part)
		if p == "" {
			continue
		}
		if strings.Contains(p, "@") && strings.Contains(p, ".") {
			rec.RecoveryEmail = &p
		} else {
			rec.SecretKey = &p
		}
	}
	return rec
}
