package mailer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/shineum/mail-composer/internal/liquid"
)

const (
	// DefaultMaxPartialDepth is the nesting limit used when none is configured.
	DefaultMaxPartialDepth = 8

	// maxCachedTemplates bounds the parsed-template cache; it is cleared when full.
	maxCachedTemplates = 1024
)

// Renderer renders mail templates with the inline-image and partial
// extensions. Parsed templates are cached by source.
type Renderer struct {
	engine   *liquid.Engine
	maxDepth int

	mu    sync.RWMutex
	cache map[string]*liquid.Template
}

// NewRenderer creates a renderer. maxPartialDepth bounds partial nesting;
// values below 1 select DefaultMaxPartialDepth.
func NewRenderer(maxPartialDepth int) *Renderer {
	if maxPartialDepth < 1 {
		maxPartialDepth = DefaultMaxPartialDepth
	}
	r := &Renderer{
		engine:   liquid.NewEngine(),
		maxDepth: maxPartialDepth,
		cache:    make(map[string]*liquid.Template),
	}
	r.engine.RegisterOperator("has_inline_image", hasInlineImage)
	r.engine.RegisterTag("inline_image", inlineImage)
	r.engine.RegisterTag("partial", r.renderPartial)
	return r
}

// renderEnv is the ambient state of one send, reachable from extensions
// through liquid.Context.State.
type renderEnv struct {
	table    *InlineTable
	partials PartialRepository
	chain    []string // partial keys currently being rendered, outermost first
}

func newRenderEnv(table *InlineTable, partials PartialRepository) *renderEnv {
	return &renderEnv{table: table, partials: partials}
}

// Render renders src against data. html selects the HTML body mode: output
// is escaped and partials contribute their HTML variant.
func (r *Renderer) Render(ctx context.Context, src string, data liquid.Value, html bool, env *renderEnv) (string, error) {
	tpl, err := r.parse(src)
	if err != nil {
		return "", err
	}
	lctx := liquid.NewContext(ctx, data, liquid.WithHTML(html), liquid.WithState(env))
	return tpl.RenderString(lctx)
}

func (r *Renderer) parse(src string) (*liquid.Template, error) {
	r.mu.RLock()
	tpl, ok := r.cache[src]
	r.mu.RUnlock()
	if ok {
		return tpl, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if tpl, ok := r.cache[src]; ok {
		return tpl, nil
	}
	tpl, err := r.engine.Parse(src)
	if err != nil {
		return nil, err
	}
	if len(r.cache) >= maxCachedTemplates {
		r.cache = make(map[string]*liquid.Template)
	}
	r.cache[src] = tpl
	return tpl, nil
}

func envFrom(c *liquid.Context) (*renderEnv, bool) {
	env, ok := c.State().(*renderEnv)
	return env, ok && env != nil && env.table != nil
}

// hasInlineImage implements `x has_inline_image "file.png"`. The left operand
// is ignored; the right operand names the file.
func hasInlineImage(c *liquid.Context, _, right liquid.Value) (liquid.Value, error) {
	env, ok := envFrom(c)
	if !ok {
		return liquid.Bool(false), nil
	}
	_, found := env.table.Lookup(right.String())
	return liquid.Bool(found), nil
}

// inlineImage implements {% inline_image "file.png" %}, writing cid:<id> or
// nothing when the file is unknown.
func inlineImage(c *liquid.Context, w io.Writer, args liquid.TagArgs) error {
	env, ok := envFrom(c)
	if !ok {
		return nil
	}
	name, err := c.Evaluate(args.Primary)
	if err != nil {
		return err
	}
	entry, found := env.table.Lookup(name.String())
	if !found {
		return nil
	}
	_, err = io.WriteString(w, "cid:"+entry.ID)
	return err
}

// renderPartial implements {% partial "key", name: value %}. The partial
// renders in its own scope with the named arguments bound, and its inline
// attachments join the send's table.
func (r *Renderer) renderPartial(c *liquid.Context, w io.Writer, args liquid.TagArgs) error {
	env, ok := envFrom(c)
	if !ok || env.partials == nil {
		return nil
	}
	keyValue, err := c.Evaluate(args.Primary)
	if err != nil {
		return err
	}
	key := keyValue.String()
	if strings.TrimSpace(key) == "" {
		return nil
	}

	if slices.Contains(env.chain, key) {
		return fmt.Errorf("%w: %s", ErrPartialCycle, strings.Join(append(slices.Clone(env.chain), key), " -> "))
	}
	if len(env.chain) >= r.maxDepth {
		return fmt.Errorf("%w: including %q would exceed %d levels", ErrPartialDepth, key, r.maxDepth)
	}

	partial, err := env.partials.GetPartial(c.Context(), key)
	if err != nil {
		if errors.Is(err, ErrPartialNotFound) {
			return fmt.Errorf("partial %q: %w", key, ErrPartialNotFound)
		}
		return fmt.Errorf("load partial %q: %w", key, err)
	}
	env.table.AddRange(partial.InlineAttachments)

	src := partial.TextTemplate
	if c.HTML() {
		src = partial.HTMLTemplate
	}
	if src == "" {
		return nil
	}
	tpl, err := r.parse(src)
	if err != nil {
		return fmt.Errorf("partial %q: %w", key, err)
	}

	vars := make(map[string]liquid.Value, len(args.Named))
	for _, arg := range args.Named {
		v, err := c.Evaluate(arg.Value)
		if err != nil {
			return err
		}
		vars[arg.Name] = v
	}

	env.chain = append(env.chain, key)
	defer func() { env.chain = env.chain[:len(env.chain)-1] }()
	c.PushScope(vars)
	defer c.PopScope()

	if err := tpl.Render(c, w); err != nil {
		return fmt.Errorf("partial %q: %w", key, err)
	}
	return nil
}
