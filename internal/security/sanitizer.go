// Package security sanitizes inbound text and screens it for prompt
// injection before anything reaches the model.
package security

import (
	"fmt"
	"html"
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Maximum lengths for different input kinds.
const (
	MaxChatMessageLength     = 4096
	MaxVoiceTranscriptLength = 10000
	MaxSnapshotLength        = 2000
	MaxDefaultLength         = 4096
)

// injectionPatterns are known prompt-injection phrasings, matched
// case-insensitively after unicode folding.
var injectionPatterns = compilePatterns([]string{
	`ignore\s+(all\s+)?(previous|prior|above)\s+instructions`,
	`ignore\s+(the\s+)?(rules|above)`,
	`ignore\s+all\s+safety`,
	`disregard\s+(all\s+)?(previous|prior)`,
	`forget\s+(all\s+)?(previous|your\s+instructions|everything)`,
	`you\s+are\s+now\s+(a|an|DAN)\b`,
	`\bDAN\b.*\bDo\s+Anything\s+Now\b`,
	`new\s+(instructions?|system\s+prompt|task)\s*(:|is\s+to)`,
	`\bsystem\s*:`,
	`ASSISTANT\s*:`,
	`###\s*ASSISTANT\s*###`,
	`\bsystem\s*prompt`,
	`override\s+(your\s+)?(instructions|system)`,
	`act\s+as\s+if\s+you\s+(are|were|have)`,
	`pretend\s+(that\s+)?you\s+(are|were)`,
	`roleplay\s+as`,
	`jailbreak`,
	`DAN\s+mode`,
	`developer\s+mode\s+(enabled|on|activated)`,
	`\[INST\]`,
	`<<SYS>>`,
	`<\|im_start\|>`,
	`<\|endoftext\|>`,
	`BEGIN\s+INJECTION`,
	`do\s+not\s+follow\s+(your\s+)?instructions`,
	`bypass\s+(your\s+)?(content\s+)?filter`,
	`Human:\s*Ignore`,
	"```system\\b",
})

var (
	// Zero-width and invisible characters.
	zeroWidthChars = regexp.MustCompile(`[\x{200b}\x{200c}\x{200d}\x{200e}\x{200f}\x{202a}\x{202b}\x{202c}\x{202d}\x{202e}\x{2060}\x{2061}\x{2062}\x{2063}\x{2064}\x{2066}\x{2067}\x{2068}\x{2069}\x{feff}\x{fffe}]`)

	// Control characters except tab, newline, carriage return.
	controlChars = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f-\x9f]`)

	htmlTagPattern = regexp.MustCompile(`<[^>]+>`)

	// Style, script, and head blocks are dropped wholesale.
	htmlBlockPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`),
		regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`),
		regexp.MustCompile(`(?is)<head[^>]*>.*?</head>`),
	}

	multiSpace   = regexp.MustCompile(` {2,}`)
	multiNewline = regexp.MustCompile(`\n{3,}`)

	brTag        = regexp.MustCompile(`(?i)<br\s*/?>`)
	pCloseTag    = regexp.MustCompile(`(?i)</p>`)
	pOpenTag     = regexp.MustCompile(`(?i)<p[^>]*>`)
	liTag        = regexp.MustCompile(`(?i)<li[^>]*>`)
)

func compilePatterns(exprs []string) []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		patterns = append(patterns, regexp.MustCompile(`(?i)`+expr))
	}
	return patterns
}

// Sanitizer cleans raw channel input and detects injection attempts.
type Sanitizer struct {
	logger *slog.Logger
}

func NewSanitizer(logger *slog.Logger) *Sanitizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sanitizer{logger: logger}
}

// SanitizeText strips HTML, control and zero-width characters, collapses
// whitespace, and truncates to maxLength. The result is always non-nil and
// within the limit.
func (s *Sanitizer) SanitizeText(text string, maxLength int) string {
	if maxLength <= 0 {
		maxLength = MaxDefaultLength
	}

	result := zeroWidthChars.ReplaceAllString(text, "")
	result = controlChars.ReplaceAllString(result, "")
	for _, p := range htmlBlockPatterns {
		result = p.ReplaceAllString(result, "")
	}
	result = htmlTagPattern.ReplaceAllString(result, "")
	result = html.UnescapeString(result)
	result = multiSpace.ReplaceAllString(result, " ")
	result = multiNewline.ReplaceAllString(result, "\n\n")
	result = strings.TrimSpace(result)

	if runes := []rune(result); len(runes) > maxLength {
		result = string(runes[:maxLength])
		s.logger.Warn("input truncated", "from", len(runes), "to", maxLength)
	}

	return result
}

// SanitizeHTMLBody converts an HTML document fragment to readable plain
// text. Used for rendered page snapshots and rich channel payloads.
func (s *Sanitizer) SanitizeHTMLBody(htmlContent string, maxLength int) string {
	if maxLength <= 0 {
		maxLength = MaxSnapshotLength
	}

	result := htmlContent
	for _, p := range htmlBlockPatterns {
		result = p.ReplaceAllString(result, "")
	}
	result = brTag.ReplaceAllString(result, "\n")
	result = pCloseTag.ReplaceAllString(result, "\n")
	result = pOpenTag.ReplaceAllString(result, "")
	result = liTag.ReplaceAllString(result, "- ")
	result = htmlTagPattern.ReplaceAllString(result, "")
	result = html.UnescapeString(result)
	result = zeroWidthChars.ReplaceAllString(result, "")
	result = controlChars.ReplaceAllString(result, "")
	result = multiSpace.ReplaceAllString(result, " ")
	result = multiNewline.ReplaceAllString(result, "\n\n")
	result = strings.TrimSpace(result)

	if runes := []rune(result); len(runes) > maxLength {
		result = string(runes[:maxLength])
	}

	return result
}

// foldTransformer normalizes to NFKD and drops combining marks, so
// diacritic and homoglyph tricks cannot hide an injection phrase.
var foldTransformer = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))

// DetectInjection reports whether text matches a known prompt-injection
// pattern. Zero-width characters are stripped and unicode is folded before
// matching.
func (s *Sanitizer) DetectInjection(text string) bool {
	if text == "" {
		return false
	}

	cleaned := zeroWidthChars.ReplaceAllString(text, "")
	folded, _, err := transform.String(foldTransformer, cleaned)
	if err != nil {
		folded = cleaned
	}

	for _, pattern := range injectionPatterns {
		if pattern.MatchString(folded) {
			s.logger.Warn("prompt injection detected", "pattern", pattern.String())
			return true
		}
	}
	return false
}

// WrapUserInput wraps sanitized input in boundary markers so the model can
// tell user content apart from system instructions.
func WrapUserInput(text string) string {
	return fmt.Sprintf("[BEGIN USER MESSAGE]\n%s\n[END USER MESSAGE]", text)
}
