package liquid

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// TokenType represents the type of an expression token.
type TokenType int

const (
	// Special tokens
	ILLEGAL TokenType = iota
	EOF

	// Identifiers and literals
	IDENT  // name, user.email, and, contains
	STRING // "text" or 'text'
	NUMBER // 42, -1, 3.5

	// Punctuation
	DOT      // .
	RANGE    // ..
	COMMA    // ,
	COLON    // :
	PIPE     // |
	LPAREN   // (
	RPAREN   // )
	LBRACKET // [
	RBRACKET // ]

	// Operators
	ASSIGN // =
	EQ     // ==
	NOT_EQ // != or <>
	LT     // <
	GT     // >
	LTE    // <=
	GTE    // >=
)

var tokenNames = map[TokenType]string{
	ILLEGAL:  "ILLEGAL",
	EOF:      "end of expression",
	IDENT:    "identifier",
	STRING:   "string",
	NUMBER:   "number",
	DOT:      "'.'",
	RANGE:    "'..'",
	COMMA:    "','",
	COLON:    "':'",
	PIPE:     "'|'",
	LPAREN:   "'('",
	RPAREN:   "')'",
	LBRACKET: "'['",
	RBRACKET: "']'",
	ASSIGN:   "'='",
	EQ:       "'=='",
	NOT_EQ:   "'!='",
	LT:       "'<'",
	GT:       "'>'",
	LTE:      "'<='",
	GTE:      "'>='",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return "unknown"
}

// Token is a lexed expression token.
type Token struct {
	Type    TokenType
	Literal string
	Pos     int
}

// Lexer tokenizes the expression inside a {{ }} or {% %} delimiter.
type Lexer struct {
	input string
	pos   int
}

// NewLexer creates a lexer over input.
func NewLexer(input string) *Lexer {
	return &Lexer{input: input}
}

// NextToken returns the next token, or EOF when the input is exhausted.
func (l *Lexer) NextToken() Token {
	l.skipWhitespace()
	if l.pos >= len(l.input) {
		return Token{Type: EOF, Pos: l.pos}
	}

	start := l.pos
	ch := l.input[l.pos]
	switch ch {
	case '.':
		if l.peekByte(1) == '.' {
			l.pos += 2
			return Token{Type: RANGE, Literal: "..", Pos: start}
		}
		l.pos++
		return Token{Type: DOT, Literal: ".", Pos: start}
	case ',':
		l.pos++
		return Token{Type: COMMA, Literal: ",", Pos: start}
	case ':':
		l.pos++
		return Token{Type: COLON, Literal: ":", Pos: start}
	case '|':
		l.pos++
		return Token{Type: PIPE, Literal: "|", Pos: start}
	case '(':
		l.pos++
		return Token{Type: LPAREN, Literal: "(", Pos: start}
	case ')':
		l.pos++
		return Token{Type: RPAREN, Literal: ")", Pos: start}
	case '[':
		l.pos++
		return Token{Type: LBRACKET, Literal: "[", Pos: start}
	case ']':
		l.pos++
		return Token{Type: RBRACKET, Literal: "]", Pos: start}
	case '=':
		if l.peekByte(1) == '=' {
			l.pos += 2
			return Token{Type: EQ, Literal: "==", Pos: start}
		}
		l.pos++
		return Token{Type: ASSIGN, Literal: "=", Pos: start}
	case '!':
		if l.peekByte(1) == '=' {
			l.pos += 2
			return Token{Type: NOT_EQ, Literal: "!=", Pos: start}
		}
	case '<':
		switch l.peekByte(1) {
		case '=':
			l.pos += 2
			return Token{Type: LTE, Literal: "<=", Pos: start}
		case '>':
			l.pos += 2
			return Token{Type: NOT_EQ, Literal: "<>", Pos: start}
		}
		l.pos++
		return Token{Type: LT, Literal: "<", Pos: start}
	case '>':
		if l.peekByte(1) == '=' {
			l.pos += 2
			return Token{Type: GTE, Literal: ">=", Pos: start}
		}
		l.pos++
		return Token{Type: GT, Literal: ">", Pos: start}
	case '"', '\'':
		return l.readString(ch)
	case '-':
		if isDigit(l.peekByte(1)) {
			return l.readNumber()
		}
	}

	if isDigit(ch) {
		return l.readNumber()
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.pos:])
	if isIdentStart(r) {
		return l.readIdent()
	}

	_, size := utf8.DecodeRuneInString(l.input[l.pos:])
	l.pos += size
	return Token{Type: ILLEGAL, Literal: l.input[start:l.pos], Pos: start}
}

func (l *Lexer) peekByte(offset int) byte {
	if l.pos+offset >= len(l.input) {
		return 0
	}
	return l.input[l.pos+offset]
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.input) {
		switch l.input[l.pos] {
		case ' ', '\t', '\n', '\r':
			l.pos++
		default:
			return
		}
	}
}

func (l *Lexer) readString(quote byte) Token {
	start := l.pos
	end := strings.IndexByte(l.input[l.pos+1:], quote)
	if end < 0 {
		l.pos = len(l.input)
		return Token{Type: ILLEGAL, Literal: l.input[start:], Pos: start}
	}
	lit := l.input[l.pos+1 : l.pos+1+end]
	l.pos += end + 2
	return Token{Type: STRING, Literal: lit, Pos: start}
}

func (l *Lexer) readNumber() Token {
	start := l.pos
	if l.input[l.pos] == '-' {
		l.pos++
	}
	for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
		l.pos++
	}
	// A dot only continues the number when a digit follows, so (1..5) lexes as a range.
	if l.peekByte(0) == '.' && isDigit(l.peekByte(1)) {
		l.pos++
		for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
			l.pos++
		}
	}
	return Token{Type: NUMBER, Literal: l.input[start:l.pos], Pos: start}
}

func (l *Lexer) readIdent() Token {
	start := l.pos
	for l.pos < len(l.input) {
		r, size := utf8.DecodeRuneInString(l.input[l.pos:])
		if isIdentStart(r) || unicode.IsDigit(r) || r == '-' {
			l.pos += size
			continue
		}
		if r == '?' {
			l.pos += size
		}
		break
	}
	return Token{Type: IDENT, Literal: l.input[start:l.pos], Pos: start}
}

func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

// segmentKind classifies a slice of template source.
type segmentKind int

const (
	segText segmentKind = iota
	segOutput
	segTag
)

// segment is one piece of template source: literal text, an output
// delimiter or a tag delimiter.
type segment struct {
	kind      segmentKind
	text      string
	line      int
	trimLeft  bool
	trimRight bool
}

// name returns the tag name of a tag segment.
func (s segment) name() string {
	name, _, _ := strings.Cut(strings.TrimSpace(s.text), " ")
	if i := strings.IndexAny(name, "\t\r\n"); i >= 0 {
		name = name[:i]
	}
	return name
}

// args returns the tag source after the tag name.
func (s segment) args() string {
	text := strings.TrimSpace(s.text)
	name := s.name()
	return strings.TrimSpace(text[len(name):])
}

var (
	endRawPattern     = regexp.MustCompile(`\{%-?\s*endraw\s*-?%\}`)
	endCommentPattern = regexp.MustCompile(`\{%-?\s*endcomment\s*-?%\}`)
)

// scan splits template source into segments. The bodies of raw and comment
// blocks are captured verbatim.
func scan(src string) ([]segment, error) {
	var segs []segment
	pos := 0
	for pos < len(src) {
		open := nextDelimiter(src, pos)
		if open < 0 {
			segs = append(segs, segment{kind: segText, text: src[pos:], line: lineAt(src, pos)})
			break
		}
		if open > pos {
			segs = append(segs, segment{kind: segText, text: src[pos:open], line: lineAt(src, pos)})
		}

		kind, closer := segOutput, "}}"
		if src[open+1] == '%' {
			kind, closer = segTag, "%}"
		}
		end := findCloser(src, open+2, closer)
		if end < 0 {
			return nil, &SyntaxError{Line: lineAt(src, open), Msg: "unterminated " + delimiterName(kind)}
		}

		seg := segment{kind: kind, text: src[open+2 : end], line: lineAt(src, open)}
		if strings.HasPrefix(seg.text, "-") {
			seg.trimLeft = true
			seg.text = seg.text[1:]
		}
		if strings.HasSuffix(seg.text, "-") {
			seg.trimRight = true
			seg.text = seg.text[:len(seg.text)-1]
		}
		segs = append(segs, seg)
		pos = end + 2

		if kind != segTag {
			continue
		}
		var pattern *regexp.Regexp
		switch seg.name() {
		case "raw":
			pattern = endRawPattern
		case "comment":
			pattern = endCommentPattern
		default:
			continue
		}
		loc := pattern.FindStringIndex(src[pos:])
		if loc == nil {
			return nil, &SyntaxError{Line: seg.line, Msg: "'" + seg.name() + "' tag was never closed"}
		}
		if seg.name() == "raw" && loc[0] > 0 {
			segs = append(segs, segment{kind: segText, text: src[pos : pos+loc[0]], line: lineAt(src, pos)})
		}
		closeSrc := src[pos+loc[0]+2 : pos+loc[1]-2]
		closeSeg := segment{kind: segTag, line: lineAt(src, pos+loc[0])}
		if strings.HasPrefix(closeSrc, "-") {
			closeSeg.trimLeft = true
			closeSrc = closeSrc[1:]
		}
		if strings.HasSuffix(closeSrc, "-") {
			closeSeg.trimRight = true
			closeSrc = closeSrc[:len(closeSrc)-1]
		}
		closeSeg.text = closeSrc
		segs = append(segs, closeSeg)
		pos += loc[1]
	}
	applyTrim(segs)
	return segs, nil
}

// nextDelimiter returns the index of the next "{{" or "{%" at or after pos.
func nextDelimiter(src string, pos int) int {
	for i := pos; i < len(src)-1; i++ {
		if src[i] == '{' && (src[i+1] == '{' || src[i+1] == '%') {
			return i
		}
	}
	return -1
}

// findCloser finds closer outside of quoted strings.
func findCloser(src string, pos int, closer string) int {
	var quote byte
	for i := pos; i < len(src)-1; i++ {
		ch := src[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '"' || ch == '\'':
			quote = ch
		case ch == closer[0] && src[i+1] == closer[1]:
			return i
		}
	}
	return -1
}

// applyTrim strips whitespace from text adjacent to {{- -}} and {%- -%}.
func applyTrim(segs []segment) {
	for i, seg := range segs {
		if seg.kind == segText {
			continue
		}
		if seg.trimLeft && i > 0 && segs[i-1].kind == segText {
			segs[i-1].text = strings.TrimRightFunc(segs[i-1].text, unicode.IsSpace)
		}
		if seg.trimRight && i+1 < len(segs) && segs[i+1].kind == segText {
			segs[i+1].text = strings.TrimLeftFunc(segs[i+1].text, unicode.IsSpace)
		}
	}
}

func lineAt(src string, pos int) int {
	return strings.Count(src[:pos], "\n") + 1
}

func delimiterName(kind segmentKind) string {
	if kind == segTag {
		return "tag '{%'"
	}
	return "output '{{'"
}
