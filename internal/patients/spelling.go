package patients

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode"
)

var nonDigits = regexp.MustCompile(`\D`)

// SpellName spells a name letter by letter for read-back, e.g. "Jane Doe" ->
// "J-A-N-E, D-O-E". Hyphens and apostrophes are spoken.
func SpellName(name string) string {
	words := strings.Fields(name)
	spelled := make([]string, 0, len(words))
	for _, w := range words {
		spelled = append(spelled, spellRunes(w))
	}
	return strings.Join(spelled, ", ")
}

// SpellEmail spells the local part letter by letter and speaks the domain,
// e.g. "jane.doe@gmail.com" -> "J-A-N-E-dot-D-O-E at gmail dot com".
func SpellEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return spellRunes(email)
	}
	local, domain := email[:at], email[at+1:]
	return spellRunes(local) + " at " + strings.ReplaceAll(strings.ToLower(domain), ".", " dot ")
}

func spellRunes(s string) string {
	parts := make([]string, 0, len(s))
	for _, r := range s {
		switch {
		case r == '.':
			parts = append(parts, "dot")
		case r == '_':
			parts = append(parts, "underscore")
		case r == '-':
			parts = append(parts, "dash")
		case r == '+':
			parts = append(parts, "plus")
		case r == '\'':
			parts = append(parts, "apostrophe")
		case unicode.IsLetter(r):
			parts = append(parts, string(unicode.ToUpper(r)))
		case unicode.IsDigit(r):
			parts = append(parts, string(r))
		}
	}
	return strings.Join(parts, "-")
}

// NormalizePhone strips formatting and a leading US country code. It returns
// false unless exactly ten digits remain.
func NormalizePhone(raw string) (string, bool) {
	digits := nonDigits.ReplaceAllString(raw, "")
	if len(digits) == 11 && strings.HasPrefix(digits, "1") {
		digits = digits[1:]
	}
	if len(digits) != 10 {
		return "", false
	}
	return digits, true
}

// SpeakPhone groups a ten-digit number 3-3-4 with each digit spoken separately,
// e.g. "5551234567" -> "5 5 5, 1 2 3, 4 5 6 7".
func SpeakPhone(phone string) string {
	digits, ok := NormalizePhone(phone)
	if !ok {
		return strings.Join(strings.Split(nonDigits.ReplaceAllString(phone, ""), ""), " ")
	}
	group := func(s string) string { return strings.Join(strings.Split(s, ""), " ") }
	return group(digits[:3]) + ", " + group(digits[3:6]) + ", " + group(digits[6:])
}

// NormalizeEmail lowercases and validates an address. Spoken forms such as
// "jane dot doe at gmail dot com" are accepted.
func NormalizeEmail(raw string) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if !strings.Contains(s, "@") {
		s = strings.ReplaceAll(s, " at ", "@")
	}
	s = strings.ReplaceAll(s, " dot ", ".")
	s = strings.ReplaceAll(s, " underscore ", "_")
	s = strings.ReplaceAll(s, " dash ", "-")
	s = strings.Join(strings.Fields(s), "")

	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return "", false
	}
	at := strings.LastIndex(s, "@")
	if at <= 0 || !strings.Contains(s[at+1:], ".") || strings.HasSuffix(s, ".") {
		return "", false
	}
	return s, true
}

// SplitName separates a full name into first and last name. A single word is
// returned as the first name.
func SplitName(full string) (string, string) {
	words := strings.Fields(full)
	switch len(words) {
	case 0:
		return "", ""
	case 1:
		return words[0], ""
	default:
		return words[0], strings.Join(words[1:], " ")
	}
}
