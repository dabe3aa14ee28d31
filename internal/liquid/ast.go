package liquid

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"io"
	"math"
)

// Expr is a parsed expression. Tags receive their arguments as Exprs and
// evaluate them with Context.Evaluate.
type Expr interface {
	eval(c *Context) (Value, error)
}

// Node is a parsed piece of template.
type Node interface {
	render(c *Context, w io.Writer) error
}

// ---------------------------------------------------------------------------
// Expressions

type literalExpr struct {
	value Value
}

func (e *literalExpr) eval(*Context) (Value, error) {
	return e.value, nil
}

// keywordExpr is the empty or blank keyword. On its own it renders as an
// empty string; comparisons against it test emptiness.
type keywordExpr struct {
	name string
}

func (e *keywordExpr) eval(*Context) (Value, error) {
	return String(""), nil
}

func (e *keywordExpr) matches(v Value) bool {
	if e.name == "blank" {
		return v.IsBlank()
	}
	return v.IsEmpty()
}

// accessor is one step of a variable path: a field name or an index expression.
type accessor struct {
	field string
	index Expr
}

type variableExpr struct {
	name string
	path []accessor
}

func (e *variableExpr) eval(c *Context) (Value, error) {
	v := c.Get(e.name)
	for _, step := range e.path {
		if step.index == nil {
			v = v.Field(step.field)
			continue
		}
		key, err := step.index.eval(c)
		if err != nil {
			return Nil(), err
		}
		v = v.Lookup(key)
	}
	return v, nil
}

// maxRangeSize bounds (a..b) so a template cannot allocate without limit.
const maxRangeSize = 100000

type rangeExpr struct {
	from, to Expr
}

func (e *rangeExpr) eval(c *Context) (Value, error) {
	fromV, err := e.from.eval(c)
	if err != nil {
		return Nil(), err
	}
	toV, err := e.to.eval(c)
	if err != nil {
		return Nil(), err
	}
	from, ok1 := fromV.Float()
	to, ok2 := toV.Float()
	if !ok1 || !ok2 {
		return Nil(), fmt.Errorf("range bounds must be numbers, got %s and %s", fromV.Kind(), toV.Kind())
	}
	lo, hi := int(math.Trunc(from)), int(math.Trunc(to))
	if hi < lo {
		return Array(), nil
	}
	if hi-lo+1 > maxRangeSize {
		return Nil(), fmt.Errorf("range of %d elements exceeds the limit of %d", hi-lo+1, maxRangeSize)
	}
	items := make([]Value, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		items = append(items, Int(i))
	}
	return Array(items...), nil
}

type binaryExpr struct {
	op     string
	left   Expr
	right  Expr
	custom OperatorFunc
}

func (e *binaryExpr) eval(c *Context) (Value, error) {
	switch e.op {
	case "and":
		l, err := e.left.eval(c)
		if err != nil || !l.Truthy() {
			return Bool(false), err
		}
		r, err := e.right.eval(c)
		return Bool(r.Truthy()), err
	case "or":
		l, err := e.left.eval(c)
		if err != nil {
			return Nil(), err
		}
		if l.Truthy() {
			return Bool(true), nil
		}
		r, err := e.right.eval(c)
		return Bool(r.Truthy()), err
	}

	l, err := e.left.eval(c)
	if err != nil {
		return Nil(), err
	}
	r, err := e.right.eval(c)
	if err != nil {
		return Nil(), err
	}

	if e.custom != nil {
		return e.custom(c, l, r)
	}

	switch e.op {
	case "==":
		return Bool(e.equal(l, r)), nil
	case "!=", "<>":
		return Bool(!e.equal(l, r)), nil
	case "contains":
		return Bool(l.Contains(r)), nil
	case "<", ">", "<=", ">=":
		cmp, ok := l.Compare(r)
		if !ok {
			return Bool(false), nil
		}
		switch e.op {
		case "<":
			return Bool(cmp < 0), nil
		case ">":
			return Bool(cmp > 0), nil
		case "<=":
			return Bool(cmp <= 0), nil
		default:
			return Bool(cmp >= 0), nil
		}
	}
	return Nil(), fmt.Errorf("unknown operator %q", e.op)
}

func (e *binaryExpr) equal(l, r Value) bool {
	if kw, ok := e.right.(*keywordExpr); ok {
		return kw.matches(l)
	}
	if kw, ok := e.left.(*keywordExpr); ok {
		return kw.matches(r)
	}
	return l.Equal(r)
}

// NamedArg is a name: value argument of a tag or filter.
type NamedArg struct {
	Name  string
	Value Expr
}

type filterCall struct {
	name  string
	fn    FilterFunc
	args  []Expr
	named []NamedArg
}

// filteredExpr is an expression followed by a filter chain.
type filteredExpr struct {
	base    Expr
	filters []filterCall
}

func (e *filteredExpr) eval(c *Context) (Value, error) {
	v, err := e.base.eval(c)
	if err != nil {
		return Nil(), err
	}
	for _, f := range e.filters {
		args := make([]Value, 0, len(f.args)+1)
		for _, a := range f.args {
			av, err := a.eval(c)
			if err != nil {
				return Nil(), err
			}
			args = append(args, av)
		}
		if len(f.named) > 0 {
			opts := NewObject()
			for _, na := range f.named {
				av, err := na.Value.eval(c)
				if err != nil {
					return Nil(), err
				}
				opts.Set(na.Name, av)
			}
			args = append(args, ObjectValue(opts))
		}
		v, err = f.fn(v, args)
		if err != nil {
			return Nil(), fmt.Errorf("filter %s: %w", f.name, err)
		}
	}
	return v, nil
}

// ---------------------------------------------------------------------------
// Nodes

func renderNodes(c *Context, w io.Writer, nodes []Node) error {
	for _, n := range nodes {
		if err := n.render(c, w); err != nil {
			return err
		}
	}
	return nil
}

type textNode struct {
	text string
}

func (n *textNode) render(_ *Context, w io.Writer) error {
	_, err := io.WriteString(w, n.text)
	return err
}

type outputNode struct {
	expr Expr
	line int
}

func (n *outputNode) render(c *Context, w io.Writer) error {
	v, err := n.expr.eval(c)
	if err != nil {
		return renderErr(n.line, err)
	}
	return writeValue(c, w, v)
}

func writeValue(c *Context, w io.Writer, v Value) error {
	s := v.String()
	if c.html && !v.IsSafe() {
		s = html.EscapeString(s)
	}
	_, err := io.WriteString(w, s)
	return err
}

type condBranch struct {
	cond   Expr
	negate bool
	body   []Node
}

type ifNode struct {
	branches []condBranch
	elseBody []Node
	line     int
}

func (n *ifNode) render(c *Context, w io.Writer) error {
	for _, b := range n.branches {
		v, err := b.cond.eval(c)
		if err != nil {
			return renderErr(n.line, err)
		}
		if v.Truthy() != b.negate {
			return renderNodes(c, w, b.body)
		}
	}
	return renderNodes(c, w, n.elseBody)
}

type whenBranch struct {
	values []Expr
	body   []Node
}

type caseNode struct {
	subject  Expr
	whens    []whenBranch
	elseBody []Node
	line     int
}

func (n *caseNode) render(c *Context, w io.Writer) error {
	subject, err := n.subject.eval(c)
	if err != nil {
		return renderErr(n.line, err)
	}
	for _, when := range n.whens {
		for _, ve := range when.values {
			v, err := ve.eval(c)
			if err != nil {
				return renderErr(n.line, err)
			}
			if subject.Equal(v) {
				return renderNodes(c, w, when.body)
			}
		}
	}
	return renderNodes(c, w, n.elseBody)
}

type forNode struct {
	varName  string
	coll     Expr
	limit    Expr
	offset   Expr
	reversed bool
	body     []Node
	elseBody []Node
	line     int
}

func (n *forNode) render(c *Context, w io.Writer) error {
	collV, err := n.coll.eval(c)
	if err != nil {
		return renderErr(n.line, err)
	}
	items, err := n.items(c, collV)
	if err != nil {
		return renderErr(n.line, err)
	}
	if len(items) == 0 {
		return renderNodes(c, w, n.elseBody)
	}

	c.push(nil, false)
	defer c.PopScope()
	scope := c.frames[len(c.frames)-1].vars

	for i, item := range items {
		if err := c.ctx.Err(); err != nil {
			return err
		}
		loop := NewObject()
		loop.Set("index", Int(i+1))
		loop.Set("index0", Int(i))
		loop.Set("rindex", Int(len(items)-i))
		loop.Set("rindex0", Int(len(items)-i-1))
		loop.Set("first", Bool(i == 0))
		loop.Set("last", Bool(i == len(items)-1))
		loop.Set("length", Int(len(items)))
		scope["forloop"] = ObjectValue(loop)
		scope[n.varName] = item

		err := renderNodes(c, w, n.body)
		switch {
		case errors.Is(err, errBreak):
			return nil
		case errors.Is(err, errContinue):
			continue
		case err != nil:
			return err
		}
	}
	return nil
}

func (n *forNode) items(c *Context, coll Value) ([]Value, error) {
	var items []Value
	switch coll.Kind() {
	case KindArray:
		items = append(items, coll.Items()...)
	case KindObject:
		obj := coll.Object()
		for _, k := range obj.Keys() {
			v, _ := obj.Get(k)
			items = append(items, Array(String(k), v))
		}
	case KindNil:
		return nil, nil
	default:
		items = []Value{coll}
	}

	if n.offset != nil {
		off, err := intArg(c, n.offset, "offset")
		if err != nil {
			return nil, err
		}
		if off >= len(items) {
			return nil, nil
		}
		if off > 0 {
			items = items[off:]
		}
	}
	if n.limit != nil {
		lim, err := intArg(c, n.limit, "limit")
		if err != nil {
			return nil, err
		}
		if lim < 0 {
			lim = 0
		}
		if lim < len(items) {
			items = items[:lim]
		}
	}
	if n.reversed {
		for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
			items[i], items[j] = items[j], items[i]
		}
	}
	return items, nil
}

func intArg(c *Context, e Expr, name string) (int, error) {
	v, err := e.eval(c)
	if err != nil {
		return 0, err
	}
	f, ok := v.Float()
	if !ok {
		return 0, fmt.Errorf("%s must be a number", name)
	}
	return int(f), nil
}

type breakNode struct{}

func (breakNode) render(*Context, io.Writer) error { return errBreak }

type continueNode struct{}

func (continueNode) render(*Context, io.Writer) error { return errContinue }

type assignNode struct {
	name string
	expr Expr
	line int
}

func (n *assignNode) render(c *Context, _ io.Writer) error {
	v, err := n.expr.eval(c)
	if err != nil {
		return renderErr(n.line, err)
	}
	c.Set(n.name, v)
	return nil
}

type captureNode struct {
	name string
	body []Node
}

func (n *captureNode) render(c *Context, _ io.Writer) error {
	var buf bytes.Buffer
	if err := renderNodes(c, &buf, n.body); err != nil {
		return err
	}
	if c.html {
		c.Set(n.name, SafeString(buf.String()))
	} else {
		c.Set(n.name, String(buf.String()))
	}
	return nil
}

type tagNode struct {
	name string
	fn   TagFunc
	args TagArgs
	line int
}

func (n *tagNode) render(c *Context, w io.Writer) error {
	if err := c.ctx.Err(); err != nil {
		return err
	}
	return renderErr(n.line, n.fn(c, w, n.args))
}
