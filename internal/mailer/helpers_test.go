package mailer

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/shineum/mail-composer/internal/email"
	"github.com/shineum/mail-composer/internal/liquid"
	"github.com/shineum/mail-composer/internal/provider"
)

const emailSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"email": { "type": "string", "format": "email" },
		"name": { "type": "string" }
	},
	"required": ["email"]
}`

var logoSVG = []byte(`<svg xmlns="http://www.w3.org/2000/svg"/>`)

type memoryTemplates map[int]*Template

func (m memoryTemplates) GetTemplate(_ context.Context, id int) (*Template, error) {
	t, ok := m[id]
	if !ok {
		return nil, ErrTemplateNotFound
	}
	return t, nil
}

type memoryPartials map[string]*Partial

func (m memoryPartials) GetPartial(_ context.Context, key string) (*Partial, error) {
	p, ok := m[key]
	if !ok {
		return nil, ErrPartialNotFound
	}
	return p, nil
}

// MockProvider is a mock implementation of provider.Provider.
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Send(ctx context.Context, msg *email.Message) (*provider.Response, error) {
	args := m.Called(ctx, msg)
	resp, _ := args.Get(0).(*provider.Response)
	return resp, args.Error(1)
}

func (m *MockProvider) Name() string {
	return "mock"
}

type countingCounter struct {
	n int
}

func (c *countingCounter) Inc() {
	c.n++
}

func data(t *testing.T, raw string) liquid.Value {
	t.Helper()
	var v liquid.Value
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	return v
}
