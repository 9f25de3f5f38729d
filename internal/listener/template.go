package listener

import (
	"strings"
	"time"

	"github.com/dollyzn/whaticket-cero/internal/domain"
)

// Greeting returns "Bom dia" before noon, "Boa tarde" until 18:00 and
// "Boa noite" after that
func Greeting(now time.Time) string {
	switch h := now.Hour(); {
	case h < 12:
		return "Bom dia"
	case h < 18:
		return "Boa tarde"
	default:
		return "Boa noite"
	}
}

// FormatBody substitutes the contact and time tokens of a channel template
func FormatBody(tpl string, contact *domain.Contact, now time.Time) string {
	if !strings.Contains(tpl, "{{") {
		return tpl
	}
	var name, number string
	if contact != nil {
		name, number = contact.Name, contact.Number
	}
	firstName := name
	if fields := strings.Fields(name); len(fields) > 0 {
		firstName = fields[0]
	}
	return strings.NewReplacer(
		"{{name}}", name,
		"{{firstName}}", firstName,
		"{{number}}", number,
		"{{greeting}}", Greeting(now),
		"{{hour}}", now.Format("15:04:05"),
	).Replace(tpl)
}
