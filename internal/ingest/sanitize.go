package ingest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	readability "github.com/go-shiori/go-readability"
)

// maxBinarySampleSize bounds the prefix inspected for binary content.
const maxBinarySampleSize = 8 * 1024

var (
	inlineMarkupRe = regexp.MustCompile("[*_`~]{1,3}")
	linkRe         = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	htmlTagRe      = regexp.MustCompile(`<[^>]{1,256}>`)
	qaLineRe       = regexp.MustCompile(`(?m)^\s*(Q|A)\s*:`)
)

// SniffFormat guesses the document format from the filename extension and,
// failing that, the content itself.
func SniffFormat(name string, raw []byte) Format {
	switch strings.ToLower(ext(name)) {
	case ".md", ".markdown":
		return FormatMarkdown
	case ".html", ".htm":
		return FormatHTML
	case ".txt", ".text", "":
	default:
		// Unknown extension: fall through to content sniffing.
	}

	sample := raw
	if len(sample) > maxBinarySampleSize {
		sample = sample[:maxBinarySampleSize]
	}
	switch {
	case bytes.Contains(sample, []byte("<html")) || bytes.Contains(sample, []byte("<!DOCTYPE")):
		return FormatHTML
	case len(qaLineRe.FindAll(sample, 3)) >= 2:
		return FormatQA
	case bytes.HasPrefix(bytes.TrimLeft(sample, " \n\t"), []byte("#")):
		return FormatMarkdown
	default:
		return FormatPlain
	}
}

func ext(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i:]
	}
	return ""
}

// Sanitize normalizes raw document bytes into clean UTF-8 prose and extracts
// metadata. Binary or otherwise unreadable content is rejected with
// ErrUnsupportedFormat so the caller can skip the document without aborting
// the batch.
func Sanitize(name string, raw []byte, format Format) (CleanDoc, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return CleanDoc{}, fmt.Errorf("%w: empty document %q", ErrUnsupportedFormat, name)
	}
	if looksBinary(raw) {
		return CleanDoc{}, fmt.Errorf("%w: binary content in %q", ErrUnsupportedFormat, name)
	}

	var (
		text  string
		title string
		err   error
	)

	switch format {
	case FormatHTML:
		text, title, err = sanitizeHTML(name, raw)
		if err != nil {
			return CleanDoc{}, err
		}
	case FormatQA:
		text, title = sanitizeQA(string(raw))
	case FormatMarkdown:
		text, title = sanitizeMarkdown(string(raw))
	case FormatPlain:
		text, title = sanitizePlain(string(raw))
	default:
		return CleanDoc{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	text = normalizeWhitespace(stripControl(text))
	if text == "" {
		return CleanDoc{}, fmt.Errorf("%w: no prose left after sanitizing %q", ErrUnsupportedFormat, name)
	}
	if title == "" {
		title = firstLine(text)
	}

	// Identity is a hash of the normalized text, never the filename; renaming
	// or re-uploading identical content maps to the same document.
	sum := sha256.Sum256([]byte(text))
	id := "doc_" + hex.EncodeToString(sum[:16])

	return CleanDoc{
		ID:        id,
		Title:     title,
		Format:    format,
		Text:      text,
		WordCount: len(strings.Fields(text)),
		CharCount: utf8.RuneCountInString(text),
	}, nil
}

// looksBinary reports whether the content is unlikely to be text: NUL bytes
// or a high share of invalid UTF-8 in the leading sample.
func looksBinary(raw []byte) bool {
	sample := raw
	if len(sample) > maxBinarySampleSize {
		sample = sample[:maxBinarySampleSize]
	}
	if bytes.IndexByte(sample, 0x00) >= 0 {
		return true
	}

	invalid := 0
	for len(sample) > 0 {
		r, size := utf8.DecodeRune(sample)
		if r == utf8.RuneError && size == 1 {
			invalid++
		}
		sample = sample[size:]
	}
	return invalid > len(raw)/10
}

func sanitizeHTML(name string, raw []byte) (text, title string, err error) {
	article, rErr := readability.FromReader(bytes.NewReader(raw), nil)
	if rErr != nil {
		return "", "", fmt.Errorf("%w: unreadable HTML in %q: %v", ErrUnsupportedFormat, name, rErr)
	}
	return article.TextContent, strings.TrimSpace(article.Title), nil
}

// sanitizeQA normalizes structured question/answer records into paired
// "Q: / A:" blocks. The first question doubles as the title.
func sanitizeQA(raw string) (text, title string) {
	var b strings.Builder
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			b.WriteString("\n")
			continue
		}
		if m := qaLineRe.FindStringSubmatch(trimmed); m != nil {
			body := strings.TrimSpace(trimmed[strings.Index(trimmed, ":")+1:])
			if m[1] == "Q" && title == "" {
				title = body
			}
			b.WriteString(m[1] + ": " + body + "\n")
			continue
		}
		// Continuation line of the previous answer/question.
		b.WriteString(trimmed + "\n")
	}
	return b.String(), title
}

// sanitizeMarkdown strips inline markup and embedded HTML but keeps heading
// lines intact; the chunker uses them as section markers.
func sanitizeMarkdown(raw string) (text, title string) {
	var b strings.Builder
	for _, line := range strings.Split(raw, "\n") {
		if heading, ok := headingText(line); ok && title == "" {
			title = heading
		}
		line = linkRe.ReplaceAllString(line, "$1")
		line = htmlTagRe.ReplaceAllString(line, " ")
		if !strings.HasPrefix(strings.TrimSpace(line), "#") {
			line = inlineMarkupRe.ReplaceAllString(line, "")
		}
		b.WriteString(line + "\n")
	}
	return b.String(), title
}

func sanitizePlain(raw string) (text, title string) {
	return raw, firstLine(raw)
}

// headingText returns the text of a markdown heading line, if it is one.
func headingText(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "#") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimLeft(trimmed, "# ")), true
}

// stripControl removes control characters except newline and tab.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || r == utf8.RuneError {
			return -1
		}
		return r
	}, s)
}

// normalizeWhitespace collapses runs of spaces/tabs to one space, trims
// trailing whitespace per line, and collapses 3+ blank lines to one.
func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blanks := 0
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			blanks++
			if blanks > 1 {
				continue
			}
		} else {
			blanks = 0
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			const maxTitle = 120
			if utf8.RuneCountInString(trimmed) > maxTitle {
				return string([]rune(trimmed)[:maxTitle])
			}
			return trimmed
		}
	}
	return ""
}
