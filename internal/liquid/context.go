package liquid

import (
	"context"
)

// Context is the state of a single render: the data tree, the variable
// scopes, the output mode and caller-owned state for extensions.
type Context struct {
	ctx    context.Context
	data   Value
	frames []frame
	html   bool
	state  any
}

type frame struct {
	vars     map[string]Value
	isolated bool
}

// Option configures a Context.
type Option func(*Context)

// WithHTML selects HTML output mode: rendered values are HTML-escaped unless
// marked safe, and extensions may pick HTML variants of their content.
func WithHTML(html bool) Option {
	return func(c *Context) {
		c.html = html
	}
}

// WithState attaches caller-owned state that tags and operators can read
// through State.
func WithState(state any) Option {
	return func(c *Context) {
		c.state = state
	}
}

// NewContext creates a render context over data. Top-level variables
// resolve against the fields of data when it is an object.
func NewContext(ctx context.Context, data Value, opts ...Option) *Context {
	if ctx == nil {
		ctx = context.Background()
	}
	c := &Context{
		ctx:    ctx,
		data:   data,
		frames: []frame{{vars: map[string]Value{}, isolated: true}},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Context returns the context.Context the render runs under.
func (c *Context) Context() context.Context { return c.ctx }

// HTML reports whether the render produces HTML.
func (c *Context) HTML() bool { return c.html }

// State returns the caller-owned state set with WithState.
func (c *Context) State() any { return c.state }

// Data returns the root data value.
func (c *Context) Data() Value { return c.data }

// Get resolves a top-level variable: innermost scope first, then the data
// object. Unknown names resolve to nil.
func (c *Context) Get(name string) Value {
	for i := len(c.frames) - 1; i >= 0; i-- {
		if v, ok := c.frames[i].vars[name]; ok {
			return v
		}
	}
	return c.data.Field(name)
}

// Set assigns a variable in the innermost isolated scope, so assignments
// inside loops survive the loop but never escape a pushed scope.
func (c *Context) Set(name string, v Value) {
	for i := len(c.frames) - 1; i >= 0; i-- {
		if c.frames[i].isolated {
			c.frames[i].vars[name] = v
			return
		}
	}
}

// PushScope opens an isolated scope seeded with vars. Variables assigned
// until the matching PopScope are discarded with it.
func (c *Context) PushScope(vars map[string]Value) {
	c.push(vars, true)
}

// PopScope closes the innermost scope.
func (c *Context) PopScope() {
	if len(c.frames) > 1 {
		c.frames = c.frames[:len(c.frames)-1]
	}
}

func (c *Context) push(vars map[string]Value, isolated bool) {
	if vars == nil {
		vars = map[string]Value{}
	}
	c.frames = append(c.frames, frame{vars: vars, isolated: isolated})
}

// Evaluate evaluates an expression in the current scope. A nil expression
// evaluates to nil.
func (c *Context) Evaluate(e Expr) (Value, error) {
	if e == nil {
		return Nil(), nil
	}
	return e.eval(c)
}
