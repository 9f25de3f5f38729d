package listener

import (
	"strings"

	"github.com/dollyzn/whaticket-cero/internal/service"
)

type vcardContact struct {
	Name   string
	Number string
}

// parseVCard extracts every phone number of a vCard together with the
// card's formatted name
func parseVCard(card string) []vcardContact {
	var name string
	var numbers []string
	for _, line := range strings.Split(card, "\n") {
		line = strings.TrimSpace(line)
		i := strings.IndexByte(line, ':')
		if i < 0 {
			continue
		}
		key, value := strings.ToUpper(line[:i]), line[i+1:]
		switch {
		case key == "FN":
			name = strings.TrimSpace(value)
		case strings.HasPrefix(key, "TEL") || strings.Contains(key, ".TEL"):
			if n := service.NormalizeNumber(value); n != "" {
				numbers = append(numbers, n)
			}
		}
	}
	out := make([]vcardContact, 0, len(numbers))
	for _, n := range numbers {
		out = append(out, vcardContact{Name: name, Number: n})
	}
	return out
}
