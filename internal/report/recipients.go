package report

import (
	"net/mail"
	"regexp"
	"strings"
)

var recipientSeparator = regexp.MustCompile(`[\r\n,]+`)

// ParseRecipients splits a newline- or comma-separated list and keeps the
// entries that are bare, valid email addresses, in order. Display-name forms
// such as "Ops <ops@example.com>" are rejected.
func ParseRecipients(raw string) []string {
	var out []string
	for _, part := range recipientSeparator.Split(raw, -1) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		addr, err := mail.ParseAddress(part)
		if err != nil || addr.Name != "" || addr.Address != part {
			continue
		}
		if !strings.Contains(part[strings.LastIndex(part, "@")+1:], ".") {
			continue
		}
		out = append(out, part)
	}
	return out
}
