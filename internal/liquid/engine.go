package liquid

import (
	"bytes"
	"context"
	"errors"
	"io"
)

// FilterFunc transforms a value. Named arguments, when present, arrive as a
// trailing object value.
type FilterFunc func(in Value, args []Value) (Value, error)

// TagFunc renders a custom tag. args holds the parsed arguments:
// {% name primary, key: value, ... %}.
type TagFunc func(c *Context, w io.Writer, args TagArgs) error

// TagArgs are the arguments of a custom tag.
type TagArgs struct {
	Primary Expr
	Named   []NamedArg
}

// OperatorFunc evaluates a custom binary operator. Both operands are
// evaluated before the call.
type OperatorFunc func(c *Context, left, right Value) (Value, error)

// Engine parses templates. Filters, tags and operators must be registered
// before the engine is used concurrently.
type Engine struct {
	filters   map[string]FilterFunc
	tags      map[string]TagFunc
	operators map[string]OperatorFunc
}

// NewEngine creates an engine with the standard filters registered.
func NewEngine() *Engine {
	e := &Engine{
		filters:   make(map[string]FilterFunc),
		tags:      make(map[string]TagFunc),
		operators: make(map[string]OperatorFunc),
	}
	for name, fn := range standardFilters() {
		e.filters[name] = fn
	}
	return e
}

// RegisterFilter adds or replaces a filter.
func (e *Engine) RegisterFilter(name string, fn FilterFunc) {
	e.filters[name] = fn
}

// RegisterTag adds a custom tag. Built-in tag names cannot be overridden.
func (e *Engine) RegisterTag(name string, fn TagFunc) {
	e.tags[name] = fn
}

// RegisterOperator adds a custom binary operator. It binds like the
// comparison operators.
func (e *Engine) RegisterOperator(name string, fn OperatorFunc) {
	e.operators[name] = fn
}

// Parse parses template source.
func (e *Engine) Parse(src string) (*Template, error) {
	segs, err := scan(src)
	if err != nil {
		return nil, err
	}
	p := &parser{engine: e, segs: segs}
	nodes, end, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	if end != nil {
		return nil, &SyntaxError{Line: end.line, Msg: "unexpected '" + end.name() + "'"}
	}
	return &Template{nodes: nodes}, nil
}

// Render parses and renders src in one step.
func (e *Engine) Render(ctx context.Context, src string, data Value, opts ...Option) (string, error) {
	tpl, err := e.Parse(src)
	if err != nil {
		return "", err
	}
	return tpl.RenderString(NewContext(ctx, data, opts...))
}

// Template is a parsed template. It is immutable and safe for concurrent use.
type Template struct {
	nodes []Node
}

// Render writes the template output to w.
func (t *Template) Render(c *Context, w io.Writer) error {
	if err := c.ctx.Err(); err != nil {
		return err
	}
	err := renderNodes(c, w, t.nodes)
	if errors.Is(err, errBreak) || errors.Is(err, errContinue) {
		return nil
	}
	return err
}

// RenderString renders the template to a string.
func (t *Template) RenderString(c *Context) (string, error) {
	var buf bytes.Buffer
	if err := t.Render(c, &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
