package utils

import (
	"regexp"
	"strings"
)

// NormalizeSender reduces a From header to a bare, lowercased address so
// "Jane Doe" <jane@x.com> and jane@x.com aggregate under the same key.
func NormalizeSender(from string) string {
	sender := strings.TrimSpace(from)

	if strings.Contains(sender, "<") && strings.Contains(sender, ">") {
		startIdx := strings.LastIndex(sender, "<") + 1
		endIdx := strings.LastIndex(sender, ">")
		if startIdx > 0 && endIdx > startIdx {
			sender = sender[startIdx:endIdx]
		}
	}

	sender = strings.Trim(sender, "<>")
	sender = strings.ToLower(strings.TrimSpace(sender))

	if sender == "" {
		return "(unknown)"
	}
	return sender
}

func ExtractDomainFromEmail(email string) string {
	if email == "" {
		return ""
	}

	email = NormalizeSender(email)

	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return ""
	}

	return strings.ToLower(strings.TrimSpace(parts[1]))
}

var unsafeSubjectChars = regexp.MustCompile(`[^\w\s-]`)

// SafeSubjectKey makes a subject usable inside an object-storage key.
func SafeSubjectKey(subject string) string {
	if subject == "" {
		subject = "no-subject"
	}
	safe := unsafeSubjectChars.ReplaceAllString(subject, "")
	safe = strings.TrimSpace(safe)
	if len(safe) > 40 {
		safe = safe[:40]
	}
	if safe == "" {
		safe = "no-subject"
	}
	return strings.ReplaceAll(safe, " ", "_")
}

func UniqueEmails(emails []string) []string {
	seen := make(map[string]struct{}, len(emails))
	unique := make([]string, 0, len(emails))

	for _, email := range emails {
		if _, exists := seen[email]; !exists {
			seen[email] = struct{}{}
			unique = append(unique, email)
		}
	}

	return unique
}
