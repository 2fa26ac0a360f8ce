package objectkey

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// Separator joins every field of a composed name. Sanitize guarantees it
	// never appears at the edges of a field or twice in a row.
	Separator = "-"

	// SequenceWidth is the fixed zero-padded width of the sequence field.
	SequenceWidth = 2
	// MaxSequence is the largest sequence number that fits SequenceWidth.
	MaxSequence = 99

	// NoSubject stands in for an absent subject identifier.
	NoSubject = "none"

	// DateLayout is the time layout of the date field (UTC).
	DateLayout = "20060102"
)

var (
	// ErrInvalidFilenameSpec indicates a required naming field is missing.
	ErrInvalidFilenameSpec = errors.New("invalid filename spec")

	// ErrSequenceOutOfRange indicates a sequence number that does not fit the fixed width.
	ErrSequenceOutOfRange = errors.New("sequence number out of range")
)

// FilenameSpec holds the structured fields of a generated file name.
// A zero Sequence means "not yet resolved".
type FilenameSpec struct {
	Location  AssetLocation
	Subject   string
	Tool      string
	Function  string
	Date      time.Time
	Sequence  int
	Extension string
}

// Fields returns the sanitized fixed fields in name order, sequence excluded.
func (s FilenameSpec) Fields() ([]string, error) {
	tool := Sanitize(s.Tool)
	if tool == "" {
		return nil, fmt.Errorf("%w: tool tag is required", ErrInvalidFilenameSpec)
	}
	function := Sanitize(s.Function)
	if function == "" {
		return nil, fmt.Errorf("%w: function tag is required", ErrInvalidFilenameSpec)
	}
	if s.Date.IsZero() {
		return nil, fmt.Errorf("%w: creation date is required", ErrInvalidFilenameSpec)
	}
	if NormalizeExtension(s.Extension) == "" {
		return nil, fmt.Errorf("%w: extension is required", ErrInvalidFilenameSpec)
	}
	subject := Sanitize(s.Subject)
	if subject == "" {
		subject = NoSubject
	}
	return []string{
		s.Location.String(),
		subject,
		tool,
		function,
		s.Date.UTC().Format(DateLayout),
	}, nil
}

// Prefix is the part of the name before the sequence number.
func (s FilenameSpec) Prefix() (string, error) {
	fields, err := s.Fields()
	if err != nil {
		return "", err
	}
	return strings.Join(fields, Separator), nil
}

// WithSequence returns a copy of the spec with the given sequence number.
func (s FilenameSpec) WithSequence(n int) FilenameSpec {
	s.Sequence = n
	return s
}

// Compose renders the spec as
//
//	{location}-{subject}-{tool}-{function}-{YYYYMMDD}-{NN}.{ext}
//
// A sequence outside 1..MaxSequence is rejected rather than truncated.
func Compose(spec FilenameSpec) (string, error) {
	prefix, err := spec.Prefix()
	if err != nil {
		return "", err
	}
	if spec.Sequence < 1 || spec.Sequence > MaxSequence {
		return "", fmt.Errorf("%w: %d (allowed 1-%d)", ErrSequenceOutOfRange, spec.Sequence, MaxSequence)
	}
	return fmt.Sprintf("%s%s%0*d.%s", prefix, Separator, SequenceWidth, spec.Sequence, NormalizeExtension(spec.Extension)), nil
}

// SequenceMatcher extracts sequence numbers from names sharing one fixed prefix.
// Any extension matches, so names that differ only by extension share a counter.
type SequenceMatcher struct {
	re *regexp.Regexp
}

// NewSequenceMatcher compiles the extraction pattern for the spec's fixed fields.
// The spec's Sequence is ignored.
func NewSequenceMatcher(spec FilenameSpec) (*SequenceMatcher, error) {
	prefix, err := spec.Prefix()
	if err != nil {
		return nil, err
	}
	pattern := fmt.Sprintf(`^%s%s(\d{%d})\.[A-Za-z0-9]+$`, regexp.QuoteMeta(prefix), regexp.QuoteMeta(Separator), SequenceWidth)
	return &SequenceMatcher{re: regexp.MustCompile(pattern)}, nil
}

// Extract returns the embedded sequence number, or false if name does not match.
func (m *SequenceMatcher) Extract(name string) (int, bool) {
	match := m.re.FindStringSubmatch(Base(name))
	if match == nil {
		return 0, false
	}
	n, err := strconv.Atoi(match[1])
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// String returns the underlying pattern.
func (m *SequenceMatcher) String() string {
	return m.re.String()
}

// ExtractSequence is the inverse of Compose for a single name.
func ExtractSequence(name string, spec FilenameSpec) (int, bool) {
	m, err := NewSequenceMatcher(spec)
	if err != nil {
		return 0, false
	}
	return m.Extract(name)
}

// Sanitize folds a free-text value into the filename charset [a-z0-9]. Diacritics are
// dropped, every other rune outside the allow-list becomes the separator, repeats
// collapse and the edges are trimmed. The result may be empty.
func Sanitize(value string) string {
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(stripMarks, value)
	if err != nil {
		folded = value
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	pendingSep := false
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSep && b.Len() > 0 {
				b.WriteString(Separator)
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	return b.String()
}

// NormalizeExtension strips a leading dot, lowercases and maps "jpeg" to "jpg".
func NormalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	if ext == "jpeg" {
		return "jpg"
	}
	return ext
}

// FormatTag renders the output format and quality as one token, e.g. "webp85".
// Lossless formats and non-positive qualities render the format alone.
func FormatTag(format string, quality int) string {
	format = NormalizeExtension(format)
	if format == "png" || quality <= 0 {
		return format
	}
	return fmt.Sprintf("%s%d", format, quality)
}
