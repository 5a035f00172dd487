package reporter

import (
	"errors"
	"fmt"
	"regexp"
	"regexp/syntax"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/coder/monacoharness/fixture"
)

// Pattern is a regular expression as plain data. It is rebuilt explicitly on
// each side of a worker boundary instead of being cloned.
type Pattern struct {
	Source string `json:"source"`
	Flags  string `json:"flags"`
}

// ErrEmptyMatch is returned for patterns which can match empty text. Go drops
// an empty match that touches the previous match and the page does not, so
// the two sides would disagree on such patterns.
var ErrEmptyMatch = errors.New("pattern can match empty text")

// Compile builds the Go equivalent of the pattern. Source must use syntax both
// engines agree on. Flags i, m and s map onto Go flags; g, u and d do not
// change which matches are reported.
func (p Pattern) Compile() (*regexp.Regexp, error) {
	var goFlags strings.Builder
	for _, f := range p.Flags {
		switch f {
		case 'i', 'm', 's':
			if !strings.ContainsRune(goFlags.String(), f) {
				goFlags.WriteRune(f)
			}
		case 'g', 'u', 'd':
		default:
			return nil, fmt.Errorf("pattern flag %q is not supported", f)
		}
	}

	src := p.Source
	if goFlags.Len() > 0 {
		src = "(?" + goFlags.String() + ")" + src
	}
	parsed, err := syntax.Parse(src, syntax.Perl)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", p.Source, err)
	}
	if matchesEmpty(parsed) {
		return nil, fmt.Errorf("compile pattern %q: %w", p.Source, ErrEmptyMatch)
	}
	re, err := regexp.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", p.Source, err)
	}
	return re, nil
}

// matchesEmpty reports whether some path through re consumes no text.
// Assertions count as empty.
func matchesEmpty(re *syntax.Regexp) bool {
	switch re.Op {
	case syntax.OpLiteral:
		return len(re.Rune) == 0
	case syntax.OpEmptyMatch, syntax.OpBeginLine, syntax.OpEndLine, syntax.OpBeginText,
		syntax.OpEndText, syntax.OpWordBoundary, syntax.OpNoWordBoundary,
		syntax.OpStar, syntax.OpQuest:
		return true
	case syntax.OpCapture, syntax.OpPlus:
		return matchesEmpty(re.Sub[0])
	case syntax.OpRepeat:
		return re.Min == 0 || matchesEmpty(re.Sub[0])
	case syntax.OpConcat:
		for _, sub := range re.Sub {
			if !matchesEmpty(sub) {
				return false
			}
		}
		return true
	case syntax.OpAlternate:
		for _, sub := range re.Sub {
			if matchesEmpty(sub) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// Report is one match. Offsets count UTF-16 code units, as the page does.
type Report struct {
	Start   int    `json:"start"`
	End     int    `json:"end"`
	Message string `json:"message"`
}

// Message is the text of the marker reported for match.
func Message(match string) string {
	return "Invalid text ‘" + match + "’"
}

// Scan reports every non-overlapping match of re in text, in document order.
func Scan(re *regexp.Regexp, text string) []Report {
	matches := re.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return nil
	}

	offsets := utf16Offsets(text)
	reports := make([]Report, 0, len(matches))
	for _, m := range matches {
		reports = append(reports, Report{
			Start:   offsets[m[0]],
			End:     offsets[m[1]],
			Message: Message(text[m[0]:m[1]]),
		})
	}
	return reports
}

// utf16Offsets maps every byte offset which starts a rune, plus len(text), to
// its UTF-16 offset.
func utf16Offsets(text string) map[int]int {
	offsets := make(map[int]int, len(text)+1)
	u := 0
	for i, r := range text {
		offsets[i] = u
		u += utf16.RuneLen(r)
	}
	offsets[len(text)] = u
	return offsets
}

// PositionAt converts a UTF-16 offset into a 1-based line and column, treating
// "\r\n", "\n" and "\r" as line breaks. Offsets outside the text are clamped.
func PositionAt(text string, offset int) fixture.Position {
	if offset < 0 {
		offset = 0
	}

	line, col, u := 1, 1, 0
	for i := 0; i < len(text); {
		if u >= offset {
			break
		}
		r, size := utf8.DecodeRuneInString(text[i:])
		switch {
		case r == '\r' && i+1 < len(text) && text[i+1] == '\n':
			if u+1 >= offset {
				// Between \r and \n; the break has not been passed.
				return fixture.Position{LineNumber: line, Column: col}
			}
			line, col = line+1, 1
			u += 2
			i += 2
			continue
		case r == '\n' || r == '\r':
			line, col = line+1, 1
		default:
			n := utf16.RuneLen(r)
			if n < 0 {
				n = 1
			}
			col += n
			u += n
			i += size
			continue
		}
		u++
		i += size
	}
	return fixture.Position{LineNumber: line, Column: col}
}

// ToMarkers converts reports against text into markers for uri.
func ToMarkers(uri, text string, reports []Report) []fixture.Marker {
	markers := make([]fixture.Marker, 0, len(reports))
	for _, r := range reports {
		start, end := PositionAt(text, r.Start), PositionAt(text, r.End)
		markers = append(markers, fixture.Marker{
			Range: fixture.Range{
				StartLineNumber: start.LineNumber,
				StartColumn:     start.Column,
				EndLineNumber:   end.LineNumber,
				EndColumn:       end.Column,
			},
			Message:  r.Message,
			Severity: fixture.SeverityWarning,
			Owner:    Owner,
			Resource: uri,
		})
	}
	return markers
}

// ExpectedMarkers is what the page publishes for a document at uri holding
// text once the reporter has caught up.
func ExpectedMarkers(p Pattern, uri, text string) ([]fixture.Marker, error) {
	re, err := p.Compile()
	if err != nil {
		return nil, err
	}
	return ToMarkers(uri, text, Scan(re, text)), nil
}
