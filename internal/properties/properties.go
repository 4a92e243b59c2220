// Package properties implements a structure-preserving reader and writer for
// Java-style .properties files. Documents are parsed into an ordered sequence
// of lines so that comments, blank lines, and entry order survive a rewrite:
// serializing an unmodified document reproduces the input byte for byte.
package properties

import (
	"fmt"
	"strings"
)

// LineKind classifies a single line of a properties document.
type LineKind int

const (
	KindComment LineKind = iota
	KindBlank
	KindEntry
)

func (k LineKind) String() string {
	switch k {
	case KindComment:
		return "comment"
	case KindBlank:
		return "blank"
	case KindEntry:
		return "entry"
	}
	return fmt.Sprintf("unknown (%d)", int(k))
}

// Line is one line of a properties document. Comment and blank lines keep
// only their raw text. Entry lines additionally carry the parsed key and
// value; raw holds the original text so that untouched entries round-trip
// exactly, and is empty for entries created or modified by Update.
type Line struct {
	Kind  LineKind
	Key   string
	Value string
	raw   string
}

// Document is an ordered properties file. The zero value is an empty
// document. Documents have value semantics: Update returns a copy and leaves
// the receiver untouched.
type Document struct {
	lines []Line

	// finalNewline records whether the source text ended with a newline.
	// Updated documents are always serialized with one.
	finalNewline bool
}

// ParseError reports a line that is neither a comment, a blank line, nor a
// key/value entry with a non-empty key. Parsing fails loudly instead of
// passing such lines through: this file carries credentials and a silently
// mangled line is worse than an aborted run.
type ParseError struct {
	Line int // 1-based
	Text string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("properties: line %d: not a comment, blank line, or key=value entry: %q", e.Line, e.Text)
}

// Parse splits text into classified lines. A line starting with '#' or '!'
// (after leading whitespace) is a comment, an empty or whitespace-only line
// is blank, and any other line must contain an unescaped '=' or ':'
// delimiter, whichever comes first, with a non-empty key in front of it.
// A backslash escapes the character after it when locating the delimiter;
// the escape sequence itself is kept verbatim in the key or value, so keys
// containing escapes are matched by their escaped spelling. Whitespace
// around the key is trimmed; the value is kept verbatim. Duplicate keys are
// legal, the last occurrence wins on lookup.
func Parse(text string) (Document, error) {
	var doc Document
	if text == "" {
		return doc, nil
	}

	doc.finalNewline = strings.HasSuffix(text, "\n")
	raw := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	doc.lines = make([]Line, 0, len(raw))

	for i, line := range raw {
		stripped := strings.TrimSpace(line)
		switch {
		case stripped == "":
			doc.lines = append(doc.lines, Line{Kind: KindBlank, raw: line})
		case stripped[0] == '#' || stripped[0] == '!':
			doc.lines = append(doc.lines, Line{Kind: KindComment, raw: line})
		default:
			sep := delimiterIndex(line)
			if sep == -1 {
				return Document{}, &ParseError{Line: i + 1, Text: line}
			}
			key := strings.TrimSpace(line[:sep])
			if key == "" {
				return Document{}, &ParseError{Line: i + 1, Text: line}
			}
			doc.lines = append(doc.lines, Line{
				Kind:  KindEntry,
				Key:   key,
				Value: line[sep+1:],
				raw:   line,
			})
		}
	}

	return doc, nil
}

// delimiterIndex returns the position of the first '=' or ':' in line that
// is not preceded by a backslash escape, or -1 if there is none.
func delimiterIndex(line string) int {
	escaped := false
	for i := 0; i < len(line); i++ {
		switch {
		case escaped:
			escaped = false
		case line[i] == '\\':
			escaped = true
		case line[i] == '=' || line[i] == ':':
			return i
		}
	}
	return -1
}

// Get returns the value of the last entry with the given key.
func (d Document) Get(key string) (string, bool) {
	for i := len(d.lines) - 1; i >= 0; i-- {
		if d.lines[i].Kind == KindEntry && d.lines[i].Key == key {
			return d.lines[i].Value, true
		}
	}
	return "", false
}

// Keys returns the entry keys in document order, once each.
func (d Document) Keys() []string {
	seen := make(map[string]bool, len(d.lines))
	var keys []string
	for _, line := range d.lines {
		if line.Kind == KindEntry && !seen[line.Key] {
			seen[line.Key] = true
			keys = append(keys, line.Key)
		}
	}
	return keys
}

// Len returns the number of lines in the document.
func (d Document) Len() int {
	return len(d.lines)
}

// Update returns a copy of the document with the given keys set to the given
// values. An existing key is updated in place, keeping its position in the
// file; when a key occurs more than once, the last occurrence is the one
// rewritten. A key the document does not contain is appended as a new entry
// at the end. The receiver is not modified.
func (d Document) Update(updates map[string]string) Document {
	out := Document{
		lines:        make([]Line, len(d.lines)),
		finalNewline: true,
	}
	copy(out.lines, d.lines)

	for key, value := range updates {
		updated := false
		for i := len(out.lines) - 1; i >= 0; i-- {
			if out.lines[i].Kind == KindEntry && out.lines[i].Key == key {
				out.lines[i] = Line{Kind: KindEntry, Key: key, Value: value}
				updated = true
				break
			}
		}
		if !updated {
			out.lines = append(out.lines, Line{Kind: KindEntry, Key: key, Value: value})
		}
	}

	return out
}

// Serialize renders the document back to text. Lines that were parsed and
// never touched are emitted exactly as read; entries created or modified by
// Update are rendered as key=value. The output of an updated document ends
// with exactly one newline. For an unmodified document,
// Serialize(Parse(text)) == text.
func (d Document) Serialize() string {
	var b strings.Builder
	for i, line := range d.lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		if line.Kind == KindEntry && line.raw == "" {
			b.WriteString(line.Key)
			b.WriteByte('=')
			b.WriteString(line.Value)
		} else {
			b.WriteString(line.raw)
		}
	}
	if len(d.lines) > 0 && d.finalNewline {
		b.WriteByte('\n')
	}
	return b.String()
}
