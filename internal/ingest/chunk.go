package ingest

import "strings"

// wordSpan is one whitespace-delimited word with its byte offsets.
type wordSpan struct {
	start, end int
}

// ChunkText splits normalized text into overlapping word windows.
//
// It is a pure function of (text, window, overlap): chunk spans exactly tile
// the text with the configured overlap, the first and last chunk are not
// padded, and re-running on unchanged input yields byte-identical chunks.
// A document shorter than one window produces exactly one chunk.
//
// window is the chunk size in words; overlap is the number of words shared
// between adjacent chunks and must be smaller than window.
func ChunkText(text string, window, overlap int) []Chunk {
	if window <= 0 {
		window = 1
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= window {
		overlap = window - 1
	}

	words := splitWords(text)
	if len(words) == 0 {
		return nil
	}

	sections := sectionOffsets(text)
	step := window - overlap

	var chunks []Chunk
	for start := 0; ; start += step {
		end := start + window
		if end > len(words) {
			end = len(words)
		}

		byteStart := words[start].start
		byteEnd := words[end-1].end
		chunks = append(chunks, Chunk{
			Ordinal: len(chunks),
			Start:   byteStart,
			End:     byteEnd,
			Section: nearestSection(sections, byteStart),
			Text:    text[byteStart:byteEnd],
		})

		if end == len(words) {
			break
		}
	}
	return chunks
}

// splitWords returns every whitespace-delimited word with byte offsets.
func splitWords(text string) []wordSpan {
	var spans []wordSpan
	inWord := false
	start := 0
	for i, r := range text {
		isSpace := r == ' ' || r == '\t' || r == '\n' || r == '\r'
		switch {
		case !inWord && !isSpace:
			inWord = true
			start = i
		case inWord && isSpace:
			inWord = false
			spans = append(spans, wordSpan{start: start, end: i})
		}
	}
	if inWord {
		spans = append(spans, wordSpan{start: start, end: len(text)})
	}
	return spans
}

// sectionMark is a section header and the byte offset where it starts.
type sectionMark struct {
	offset int
	title  string
}

// sectionOffsets collects markdown-style headers in document order.
func sectionOffsets(text string) []sectionMark {
	var marks []sectionMark
	offset := 0
	for _, line := range strings.SplitAfter(text, "\n") {
		if title, ok := headingText(line); ok && title != "" {
			marks = append(marks, sectionMark{offset: offset, title: title})
		}
		offset += len(line)
	}
	return marks
}

// nearestSection returns the last header at or before the given offset.
func nearestSection(marks []sectionMark, offset int) string {
	section := ""
	for _, m := range marks {
		if m.offset > offset {
			break
		}
		section = m.title
	}
	return section
}
