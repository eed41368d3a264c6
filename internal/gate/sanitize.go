package gate

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// MaxFieldLength caps sanitized fields, counted in characters (runes).
const MaxFieldLength = 1000

// emailSpace is any whitespace, Unicode separators and the BOM included.
const emailSpace = `\s\v\p{Z}\x{FEFF}`

var emailPattern = regexp.MustCompile(`^[^` + emailSpace + `@]+@[^` + emailSpace + `@]+\.[^` + emailSpace + `@]+$`)

// Sanitize converts v to text, trims surrounding whitespace and truncates the
// result to MaxFieldLength characters. Sanitize(Sanitize(v)) == Sanitize(v).
func Sanitize(v any) string {
	s := strings.TrimSpace(text(v))
	if r := []rune(s); len(r) > MaxFieldLength {
		// truncation can expose whitespace at the cut, trim again so the result is stable
		s = strings.TrimRightFunc(string(r[:MaxFieldLength]), unicode.IsSpace)
	}
	return s
}

// ValidEmail reports whether s looks like local@domain.tld. This is a shallow
// syntactic check, not RFC 5322.
func ValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// text renders a decoded JSON value the way a form field would be read.
func text(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case fmt.Stringer:
		return x.String()
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}

// present reports whether a raw field counts as supplied. Empty strings, null,
// zero and false are treated as missing.
func present(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	case float64:
		return x != 0
	case bool:
		return x
	default:
		return true
	}
}

func runeLen(s string) int { return len([]rune(s)) }
