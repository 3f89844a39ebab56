package epg

import (
	"html"
	"regexp"
	"strings"
)

// BlockKind identifies the element a Block was cut from.
type BlockKind int

const (
	// ChannelBlock is a <channel> element.
	ChannelBlock BlockKind = iota
	// ProgrammeBlock is a <programme> element.
	ProgrammeBlock
)

func (k BlockKind) String() string {
	switch k {
	case ChannelBlock:
		return "channel"
	case ProgrammeBlock:
		return "programme"
	default:
		return "unknown"
	}
}

// Block is a verbatim element span of a guide document together with the
// channel identifier it refers to (id for channels, channel for programmes).
type Block struct {
	Kind BlockKind
	ID   string
	Text string
}

var (
	idAttrRegex      = regexp.MustCompile(`\sid\s*=\s*(?:"([^"]*)"|'([^']*)')`)
	channelAttrRegex = regexp.MustCompile(`\schannel\s*=\s*(?:"([^"]*)"|'([^']*)')`)
)

// Scanner walks a guide document and yields its channel and programme
// elements in document order. It only locates element boundaries; the
// content of a block is never parsed.
type Scanner struct {
	doc   string
	pos   int
	block Block
}

// NewScanner returns a Scanner reading from doc.
func NewScanner(doc string) *Scanner {
	return &Scanner{doc: doc}
}

// Block returns the most recent block found by Scan.
func (s *Scanner) Block() Block {
	return s.block
}

// Scan advances to the next channel or programme element. It returns false
// at the end of the document or when the remaining input is truncated.
func (s *Scanner) Scan() bool {
	for s.pos < len(s.doc) {
		i := strings.IndexByte(s.doc[s.pos:], '<')
		if i < 0 {
			s.pos = len(s.doc)
			return false
		}
		start := s.pos + i
		rest := s.doc[start:]

		switch {
		case strings.HasPrefix(rest, "<!--"):
			if !s.skipPast(start, "-->") {
				return false
			}
			continue
		case strings.HasPrefix(rest, "<![CDATA["):
			if !s.skipPast(start, "]]>") {
				return false
			}
			continue
		}

		name, kind, ok := elementAt(rest)
		if !ok {
			s.pos = start + 1
			continue
		}

		end, ok := elementEnd(s.doc, start, name)
		if !ok {
			s.pos = len(s.doc)
			return false
		}

		text := s.doc[start:end]
		s.block = Block{Kind: kind, ID: blockID(text, kind), Text: text}
		s.pos = end
		return true
	}

	return false
}

func (s *Scanner) skipPast(from int, marker string) bool {
	j := strings.Index(s.doc[from:], marker)
	if j < 0 {
		s.pos = len(s.doc)
		return false
	}
	s.pos = from + j + len(marker)
	return true
}

func elementAt(rest string) (string, BlockKind, bool) {
	for _, candidate := range []struct {
		name string
		kind BlockKind
	}{
		{"channel", ChannelBlock},
		{"programme", ProgrammeBlock},
	} {
		open := "<" + candidate.name
		if strings.HasPrefix(rest, open) && len(rest) > len(open) && isNameEnd(rest[len(open)]) {
			return candidate.name, candidate.kind, true
		}
	}
	return "", 0, false
}

func isNameEnd(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '>', '/':
		return true
	}
	return false
}

// elementEnd returns the offset just past the element starting at start.
// Comments and CDATA sections inside the element are not searched for the
// closing tag.
func elementEnd(doc string, start int, name string) (int, bool) {
	gt := tagEnd(doc, start)
	if gt < 0 {
		return 0, false
	}
	if doc[gt-1] == '/' {
		return gt + 1, true
	}

	closing := "</" + name
	from := gt + 1
	for {
		j := strings.IndexByte(doc[from:], '<')
		if j < 0 {
			return 0, false
		}
		at := from + j
		rest := doc[at:]

		switch {
		case strings.HasPrefix(rest, "<!--"):
			k := strings.Index(rest, "-->")
			if k < 0 {
				return 0, false
			}
			from = at + k + len("-->")
			continue
		case strings.HasPrefix(rest, "<![CDATA["):
			k := strings.Index(rest, "]]>")
			if k < 0 {
				return 0, false
			}
			from = at + k + len("]]>")
			continue
		}

		after := at + len(closing)
		if strings.HasPrefix(rest, closing) && after < len(doc) && isNameEnd(doc[after]) && doc[after] != '/' {
			cgt := tagEnd(doc, at)
			if cgt < 0 {
				return 0, false
			}
			return cgt + 1, true
		}
		from = at + 1
	}
}

// tagEnd returns the index of the '>' closing the tag that opens at start,
// ignoring any '>' inside quoted attribute values.
func tagEnd(doc string, start int) int {
	var quote byte
	for i := start + 1; i < len(doc); i++ {
		c := doc[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '>':
			return i
		}
	}
	return -1
}

func blockID(text string, kind BlockKind) string {
	re := idAttrRegex
	if kind == ProgrammeBlock {
		re = channelAttrRegex
	}

	head := text
	if gt := tagEnd(text, 0); gt >= 0 {
		head = text[:gt+1]
	}

	m := re.FindStringSubmatch(head)
	if m == nil {
		return ""
	}
	value := m[1]
	if value == "" {
		value = m[2]
	}
	return html.UnescapeString(value)
}
