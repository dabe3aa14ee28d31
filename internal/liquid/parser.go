package liquid

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Precedence levels for binary operators
const (
	_ int = iota
	LOWEST
	LOGIC   // and, or
	COMPARE // ==, !=, <, >, <=, >=, contains, custom operators
)

// parser turns scanned segments into nodes.
type parser struct {
	engine *Engine
	segs   []segment
	pos    int
}

// parseBlock parses nodes until a tag named in ends. It returns that tag, or
// nil when the input ran out.
func (p *parser) parseBlock(ends ...string) ([]Node, *segment, error) {
	var nodes []Node
	for p.pos < len(p.segs) {
		seg := p.segs[p.pos]
		p.pos++

		switch seg.kind {
		case segText:
			if seg.text != "" {
				nodes = append(nodes, &textNode{text: seg.text})
			}

		case segOutput:
			expr, err := p.parseOutputExpr(seg.text, seg.line)
			if err != nil {
				return nil, nil, err
			}
			nodes = append(nodes, &outputNode{expr: expr, line: seg.line})

		case segTag:
			name := seg.name()
			if name == "" {
				return nil, nil, &SyntaxError{Line: seg.line, Msg: "empty tag"}
			}
			if slices.Contains(ends, name) {
				return nodes, &seg, nil
			}
			node, err := p.parseTag(seg)
			if err != nil {
				return nil, nil, err
			}
			if node != nil {
				nodes = append(nodes, node)
			}
		}
	}
	return nodes, nil, nil
}

func (p *parser) parseOutputExpr(src string, line int) (Expr, error) {
	if strings.TrimSpace(src) == "" {
		return &literalExpr{value: Nil()}, nil
	}
	ep := newExprParser(p.engine, src, line)
	expr, err := ep.parseFiltered()
	if err != nil {
		return nil, err
	}
	return expr, ep.expectEnd()
}

func (p *parser) parseTag(seg segment) (Node, error) {
	switch name := seg.name(); name {
	case "if":
		return p.parseIf(seg, false, "endif")
	case "unless":
		return p.parseIf(seg, true, "endunless")
	case "case":
		return p.parseCase(seg)
	case "for":
		return p.parseFor(seg)
	case "assign":
		return p.parseAssign(seg)
	case "capture":
		return p.parseCapture(seg)
	case "echo":
		expr, err := p.parseOutputExpr(seg.args(), seg.line)
		if err != nil {
			return nil, err
		}
		return &outputNode{expr: expr, line: seg.line}, nil
	case "break":
		return breakNode{}, nil
	case "continue":
		return continueNode{}, nil
	case "comment":
		if _, end, err := p.parseBlock("endcomment"); err != nil || end == nil {
			return nil, p.unclosed(seg, err)
		}
		return nil, nil
	case "raw":
		body, end, err := p.parseBlock("endraw")
		if err != nil || end == nil {
			return nil, p.unclosed(seg, err)
		}
		var sb strings.Builder
		for _, n := range body {
			if t, ok := n.(*textNode); ok {
				sb.WriteString(t.text)
			}
		}
		return &textNode{text: sb.String()}, nil
	default:
		fn, ok := p.engine.tags[name]
		if !ok {
			return nil, &SyntaxError{Line: seg.line, Msg: fmt.Sprintf("unknown tag '%s'", name), Err: ErrUnknownTag}
		}
		args, err := p.parseTagArgs(seg)
		if err != nil {
			return nil, err
		}
		return &tagNode{name: name, fn: fn, args: args, line: seg.line}, nil
	}
}

func (p *parser) unclosed(seg segment, err error) error {
	if err != nil {
		return err
	}
	return &SyntaxError{Line: seg.line, Msg: fmt.Sprintf("'%s' tag was never closed", seg.name())}
}

func (p *parser) parseCondition(src string, line int) (Expr, error) {
	if strings.TrimSpace(src) == "" {
		return nil, &SyntaxError{Line: line, Msg: "missing condition"}
	}
	ep := newExprParser(p.engine, src, line)
	expr, err := ep.parseExpression(LOWEST)
	if err != nil {
		return nil, err
	}
	return expr, ep.expectEnd()
}

func (p *parser) parseIf(seg segment, negate bool, endName string) (Node, error) {
	cond, err := p.parseCondition(seg.args(), seg.line)
	if err != nil {
		return nil, err
	}
	node := &ifNode{line: seg.line}
	branch := condBranch{cond: cond, negate: negate}
	for {
		body, end, err := p.parseBlock("elsif", "else", endName)
		if err != nil || end == nil {
			return nil, p.unclosed(seg, err)
		}
		branch.body = body
		node.branches = append(node.branches, branch)

		switch end.name() {
		case "elsif":
			cond, err := p.parseCondition(end.args(), end.line)
			if err != nil {
				return nil, err
			}
			branch = condBranch{cond: cond}
		case "else":
			body, end, err := p.parseBlock(endName)
			if err != nil || end == nil {
				return nil, p.unclosed(seg, err)
			}
			node.elseBody = body
			return node, nil
		default:
			return node, nil
		}
	}
}

func (p *parser) parseCase(seg segment) (Node, error) {
	subject, err := p.parseCondition(seg.args(), seg.line)
	if err != nil {
		return nil, err
	}
	node := &caseNode{subject: subject, line: seg.line}

	_, end, err := p.parseBlock("when", "else", "endcase")
	for {
		if err != nil || end == nil {
			return nil, p.unclosed(seg, err)
		}
		switch end.name() {
		case "when":
			values, werr := p.parseWhenValues(*end)
			if werr != nil {
				return nil, werr
			}
			var body []Node
			body, end, err = p.parseBlock("when", "else", "endcase")
			node.whens = append(node.whens, whenBranch{values: values, body: body})
		case "else":
			node.elseBody, end, err = p.parseBlock("endcase")
			if err != nil || end == nil {
				return nil, p.unclosed(seg, err)
			}
			return node, nil
		default:
			return node, nil
		}
	}
}

func (p *parser) parseWhenValues(seg segment) ([]Expr, error) {
	ep := newExprParser(p.engine, seg.args(), seg.line)
	var values []Expr
	for {
		v, err := ep.parsePrimary()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		if ep.cur.Type == COMMA || (ep.cur.Type == IDENT && ep.cur.Literal == "or") {
			ep.next()
			continue
		}
		break
	}
	return values, ep.expectEnd()
}

func (p *parser) parseFor(seg segment) (Node, error) {
	ep := newExprParser(p.engine, seg.args(), seg.line)
	varTok, err := ep.expect(IDENT)
	if err != nil {
		return nil, err
	}
	if ep.cur.Type != IDENT || ep.cur.Literal != "in" {
		return nil, ep.errorf("expected 'in' after '%s'", varTok.Literal)
	}
	ep.next()
	coll, err := ep.parseExpression(LOWEST)
	if err != nil {
		return nil, err
	}
	node := &forNode{varName: varTok.Literal, coll: coll, line: seg.line}
	for ep.cur.Type == IDENT {
		switch ep.cur.Literal {
		case "reversed":
			node.reversed = true
			ep.next()
		case "limit", "offset":
			opt := ep.cur.Literal
			ep.next()
			if _, err := ep.expect(COLON); err != nil {
				return nil, err
			}
			v, err := ep.parseExpression(LOWEST)
			if err != nil {
				return nil, err
			}
			if opt == "limit" {
				node.limit = v
			} else {
				node.offset = v
			}
		default:
			return nil, ep.errorf("unexpected '%s' in for tag", ep.cur.Literal)
		}
		if ep.cur.Type == COMMA {
			ep.next()
		}
	}
	if err := ep.expectEnd(); err != nil {
		return nil, err
	}

	body, end, err := p.parseBlock("else", "endfor")
	if err != nil || end == nil {
		return nil, p.unclosed(seg, err)
	}
	node.body = body
	if end.name() == "else" {
		node.elseBody, end, err = p.parseBlock("endfor")
		if err != nil || end == nil {
			return nil, p.unclosed(seg, err)
		}
	}
	return node, nil
}

func (p *parser) parseAssign(seg segment) (Node, error) {
	ep := newExprParser(p.engine, seg.args(), seg.line)
	name, err := ep.expect(IDENT)
	if err != nil {
		return nil, err
	}
	if _, err := ep.expect(ASSIGN); err != nil {
		return nil, err
	}
	expr, err := ep.parseFiltered()
	if err != nil {
		return nil, err
	}
	if err := ep.expectEnd(); err != nil {
		return nil, err
	}
	return &assignNode{name: name.Literal, expr: expr, line: seg.line}, nil
}

func (p *parser) parseCapture(seg segment) (Node, error) {
	ep := newExprParser(p.engine, seg.args(), seg.line)
	var name string
	switch ep.cur.Type {
	case IDENT, STRING:
		name = ep.cur.Literal
		ep.next()
	default:
		return nil, ep.errorf("capture requires a variable name")
	}
	if err := ep.expectEnd(); err != nil {
		return nil, err
	}
	body, end, err := p.parseBlock("endcapture")
	if err != nil || end == nil {
		return nil, p.unclosed(seg, err)
	}
	return &captureNode{name: name, body: body}, nil
}

// parseTagArgs parses "primary, name: value, ..." for custom tags.
func (p *parser) parseTagArgs(seg segment) (TagArgs, error) {
	var args TagArgs
	src := seg.args()
	if src == "" {
		return args, nil
	}
	ep := newExprParser(p.engine, src, seg.line)
	if !(ep.cur.Type == IDENT && ep.peek.Type == COLON) {
		primary, err := ep.parseExpression(LOWEST)
		if err != nil {
			return args, err
		}
		args.Primary = primary
		if ep.cur.Type == COMMA {
			ep.next()
		}
	}
	for ep.cur.Type != EOF {
		name, err := ep.expect(IDENT)
		if err != nil {
			return args, err
		}
		if _, err := ep.expect(COLON); err != nil {
			return args, err
		}
		v, err := ep.parseExpression(LOWEST)
		if err != nil {
			return args, err
		}
		args.Named = append(args.Named, NamedArg{Name: name.Literal, Value: v})
		if ep.cur.Type != COMMA {
			break
		}
		ep.next()
	}
	return args, ep.expectEnd()
}

// exprParser is a Pratt parser over one delimiter's expression source.
type exprParser struct {
	engine *Engine
	lexer  *Lexer
	line   int

	cur  Token
	peek Token
}

func newExprParser(e *Engine, src string, line int) *exprParser {
	p := &exprParser{engine: e, lexer: NewLexer(src), line: line}
	p.next()
	p.next()
	return p
}

func (p *exprParser) next() {
	p.cur = p.peek
	p.peek = p.lexer.NextToken()
}

func (p *exprParser) errorf(format string, args ...any) error {
	return &SyntaxError{Line: p.line, Msg: fmt.Sprintf(format, args...)}
}

func (p *exprParser) expect(t TokenType) (Token, error) {
	tok := p.cur
	if tok.Type != t {
		return tok, p.errorf("expected %s, got %s", t, describe(tok))
	}
	p.next()
	return tok, nil
}

func (p *exprParser) expectEnd() error {
	if p.cur.Type != EOF {
		return p.errorf("unexpected %s", describe(p.cur))
	}
	return nil
}

func describe(tok Token) string {
	switch tok.Type {
	case EOF:
		return tok.Type.String()
	case IDENT, NUMBER, ILLEGAL:
		return fmt.Sprintf("'%s'", tok.Literal)
	case STRING:
		return strconv.Quote(tok.Literal)
	default:
		return tok.Type.String()
	}
}

// infixPrecedence returns the binding power of the current token as a
// binary operator, or 0 when it is not one.
func (p *exprParser) infixPrecedence() int {
	switch p.cur.Type {
	case EQ, NOT_EQ, LT, GT, LTE, GTE:
		return COMPARE
	case IDENT:
		switch p.cur.Literal {
		case "and", "or":
			return LOGIC
		case "contains":
			return COMPARE
		}
		if _, ok := p.engine.operators[p.cur.Literal]; ok {
			return COMPARE
		}
	}
	return 0
}

// parseExpression parses a binary expression. and/or share one level and
// group to the right, matching Liquid's right-to-left evaluation.
func (p *exprParser) parseExpression(precedence int) (Expr, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		prec := p.infixPrecedence()
		if prec == 0 || prec <= precedence {
			return left, nil
		}
		op := p.cur.Literal
		p.next()

		rightPrec := prec
		if prec == LOGIC {
			rightPrec = LOGIC - 1
		}
		right, err := p.parseExpression(rightPrec)
		if err != nil {
			return nil, err
		}
		bin := &binaryExpr{op: op, left: left, right: right}
		if fn, ok := p.engine.operators[op]; ok {
			bin.custom = fn
		}
		left = bin
	}
}

func (p *exprParser) parsePrimary() (Expr, error) {
	tok := p.cur
	switch tok.Type {
	case STRING:
		p.next()
		return &literalExpr{value: String(tok.Literal)}, nil

	case NUMBER:
		f, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil {
			return nil, p.errorf("invalid number '%s'", tok.Literal)
		}
		p.next()
		return &literalExpr{value: Number(f)}, nil

	case LPAREN:
		p.next()
		from, err := p.parseExpression(LOWEST)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(RANGE); err != nil {
			return nil, err
		}
		to, err := p.parseExpression(LOWEST)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(RPAREN); err != nil {
			return nil, err
		}
		return &rangeExpr{from: from, to: to}, nil

	case IDENT:
		switch tok.Literal {
		case "true", "false":
			p.next()
			return &literalExpr{value: Bool(tok.Literal == "true")}, nil
		case "nil", "null":
			p.next()
			return &literalExpr{value: Nil()}, nil
		case "empty", "blank":
			p.next()
			return &keywordExpr{name: tok.Literal}, nil
		}
		return p.parseVariable()
	}
	return nil, p.errorf("unexpected %s", describe(tok))
}

func (p *exprParser) parseVariable() (Expr, error) {
	v := &variableExpr{name: p.cur.Literal}
	p.next()
	for {
		switch p.cur.Type {
		case DOT:
			p.next()
			field, err := p.expect(IDENT)
			if err != nil {
				return nil, err
			}
			v.path = append(v.path, accessor{field: field.Literal})
		case LBRACKET:
			p.next()
			idx, err := p.parseExpression(LOWEST)
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(RBRACKET); err != nil {
				return nil, err
			}
			v.path = append(v.path, accessor{index: idx})
		default:
			return v, nil
		}
	}
}

// parseFiltered parses an expression followed by | filter: args chains.
func (p *exprParser) parseFiltered() (Expr, error) {
	base, err := p.parseExpression(LOWEST)
	if err != nil {
		return nil, err
	}
	if p.cur.Type != PIPE {
		return base, nil
	}
	fe := &filteredExpr{base: base}
	for p.cur.Type == PIPE {
		p.next()
		name, err := p.expect(IDENT)
		if err != nil {
			return nil, err
		}
		fn, ok := p.engine.filters[name.Literal]
		if !ok {
			return nil, &SyntaxError{Line: p.line, Msg: fmt.Sprintf("undefined filter '%s'", name.Literal), Err: ErrUndefinedFilter}
		}
		call := filterCall{name: name.Literal, fn: fn}
		if p.cur.Type == COLON {
			p.next()
			for {
				if p.cur.Type == IDENT && p.peek.Type == COLON {
					argName := p.cur.Literal
					p.next()
					p.next()
					v, err := p.parseExpression(LOWEST)
					if err != nil {
						return nil, err
					}
					call.named = append(call.named, NamedArg{Name: argName, Value: v})
				} else {
					v, err := p.parseExpression(LOWEST)
					if err != nil {
						return nil, err
					}
					call.args = append(call.args, v)
				}
				if p.cur.Type != COMMA {
					break
				}
				p.next()
			}
		}
		fe.filters = append(fe.filters, call)
	}
	return fe, nil
}
