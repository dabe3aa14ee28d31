package mailer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/shineum/mail-composer/internal/email"
	"github.com/shineum/mail-composer/internal/provider"
)

type composerFixture struct {
	templates memoryTemplates
	partials  memoryPartials
	provider  *MockProvider
	counter   *countingCounter
	composer  *Composer
}

func newComposerFixture(t *testing.T) *composerFixture {
	t.Helper()
	f := &composerFixture{
		templates: memoryTemplates{
			1: {
				ID:              1,
				Name:            "welcome",
				From:            &email.Address{Address: "noreply@example.org", Name: "Example"},
				SubjectTemplate: "Hi {{ name }}",
				TextTemplate:    "Hello {{ name }}, your address is {{ email }}.",
				HTMLTemplate:    `<img src="{% inline_image "logo.svg" %}"><p>Hello {{ name }}</p>`,
				JSONSchema:      emailSchema,
				InlineAttachments: []Attachment{
					{FileName: "logo.svg", MediaType: "image/svg+xml", Data: logoSVG},
				},
			},
		},
		partials: memoryPartials{},
		provider: new(MockProvider),
		counter:  &countingCounter{},
	}
	c, err := NewComposer(ComposerConfig{
		Templates: f.templates,
		Partials:  f.partials,
		Provider:  f.provider,
		Counter:   f.counter,
	})
	require.NoError(t, err)
	f.composer = c
	return f
}

func (f *composerFixture) expectSend(captured **email.Message) {
	f.provider.On("Send", mock.Anything, mock.AnythingOfType("*email.Message")).
		Run(func(args mock.Arguments) {
			if captured != nil {
				*captured = args.Get(1).(*email.Message)
			}
		}).
		Return(&provider.Response{Provider: "mock", MessageID: "msg-1"}, nil).
		Once()
}

func TestNewComposerValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := NewComposer(ComposerConfig{})
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = NewComposer(ComposerConfig{Templates: memoryTemplates{}, Partials: memoryPartials{}})
	require.ErrorIs(t, err, ErrInvalidArgument)

	c, err := NewComposer(ComposerConfig{Templates: memoryTemplates{}, Partials: memoryPartials{}, Provider: new(MockProvider)})
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestComposerSendRejectsNilPayload(t *testing.T) {
	t.Parallel()

	f := newComposerFixture(t)
	_, err := f.composer.Send(context.Background(), 1, nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
	f.provider.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestComposerSendMissingRequiredData(t *testing.T) {
	t.Parallel()

	f := newComposerFixture(t)
	res, err := f.composer.Send(context.Background(), 1, strings.NewReader(`{"To": ["bob@example.org"], "Data": {"name": "Bob"}}`))
	require.NoError(t, err)
	assert.Equal(t, StatusInvalid, res.Status)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors.Error(), "email")
	f.provider.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
	assert.Zero(t, f.counter.n)
}

func TestComposerSendRendersSubject(t *testing.T) {
	t.Parallel()

	f := newComposerFixture(t)
	var msg *email.Message
	f.expectSend(&msg)

	res, err := f.composer.Send(context.Background(), 1,
		strings.NewReader(`{"To": ["bob@example.org"], "Data": {"name": "Bob", "email": "bob@example.org"}}`))
	require.NoError(t, err)
	assert.Equal(t, StatusSent, res.Status)
	assert.Equal(t, "msg-1", res.Response.MessageID)
	assert.Empty(t, res.Errors)

	require.NotNil(t, msg)
	assert.Equal(t, "Hi Bob", msg.Subject)
	assert.Equal(t, "Hello Bob, your address is bob@example.org.", msg.TextBody)
	assert.Equal(t, "Example", msg.From.Name)
	assert.Equal(t, "noreply@example.org", msg.From.Address)
	assert.Equal(t, []string{"bob@example.org"}, msg.Recipients())
	assert.Equal(t, 1, f.counter.n)
	f.provider.AssertExpectations(t)
}

func TestComposerSendEmbedsInlineImage(t *testing.T) {
	t.Parallel()

	f := newComposerFixture(t)
	var msg *email.Message
	f.expectSend(&msg)

	_, err := f.composer.Send(context.Background(), 1,
		strings.NewReader(`{"To": ["bob@example.org"], "Data": {"name": "Bob", "email": "bob@example.org"}}`))
	require.NoError(t, err)

	id := ContentID(logoSVG)
	require.NotNil(t, msg)
	assert.Contains(t, msg.HtmlBody, "cid:"+id)
	assert.True(t, msg.IsHTML())

	inline := msg.InlineAttachments()
	require.Len(t, inline, 1)
	assert.Equal(t, id, inline[0].ContentID)
	assert.Equal(t, "logo.svg", inline[0].Filename)
	assert.Equal(t, "image/svg+xml", inline[0].ContentType)
}

func TestComposerSendUnknownTemplate(t *testing.T) {
	t.Parallel()

	f := newComposerFixture(t)
	res, err := f.composer.Send(context.Background(), 42, strings.NewReader(`not even json`))
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, res.Status)
	assert.Nil(t, res.Response)
	assert.Empty(t, res.Errors)
	f.provider.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

type failingTemplates struct{ err error }

func (f failingTemplates) GetTemplate(context.Context, int) (*Template, error) {
	return nil, f.err
}

func TestComposerSendRepositoryFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("store unavailable")
	c, err := NewComposer(ComposerConfig{Templates: failingTemplates{boom}, Partials: memoryPartials{}, Provider: new(MockProvider)})
	require.NoError(t, err)

	_, err = c.Send(context.Background(), 1, strings.NewReader(`{}`))
	require.ErrorIs(t, err, boom)
}

func TestComposerSendBodyVariants(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		html     string
		text     string
		wantHTML string
		wantText string
	}{
		{"text only", "", "plain {{ name }}", "", "plain Bob"},
		{"html only", "<p>{{ name }}</p>", "", "<p>Bob</p>", ""},
		{"both", "<p>{{ name }}</p>", "plain {{ name }}", "<p>Bob</p>", "plain Bob"},
		{"blank sources", "  ", "\n", "", ""},
		{"html renders blank", "{% if missing %}<p>x</p>{% endif %}\n", "plain {{ name }}", "", "plain Bob"},
		{"text renders blank", "<p>{{ name }}</p>", "{% if missing %}x{% endif %}  ", "<p>Bob</p>", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newComposerFixture(t)
			f.templates[1].HTMLTemplate = tt.html
			f.templates[1].TextTemplate = tt.text
			var msg *email.Message
			f.expectSend(&msg)

			_, err := f.composer.Send(context.Background(), 1,
				strings.NewReader(`{"Data": {"name": "Bob", "email": "bob@example.org"}}`))
			require.NoError(t, err)
			require.NotNil(t, msg)
			assert.Equal(t, tt.wantHTML, msg.HtmlBody)
			assert.Equal(t, tt.wantText, msg.TextBody)
			assert.Equal(t, tt.wantHTML != "", msg.IsHTML())
		})
	}
}

func TestComposerSendToleratesOddData(t *testing.T) {
	t.Parallel()

	f := newComposerFixture(t)
	f.templates[1].HTMLTemplate = ""
	f.templates[1].TextTemplate = `{{ when | date: "%Y" }} {{ qty | plus: 1 }} [{{ 10 | divided_by: qty }}] [{{ 10 | modulo: zero }}]`
	var msg *email.Message
	f.expectSend(&msg)

	res, err := f.composer.Send(context.Background(), 1, strings.NewReader(
		`{"Data": {"email": "bob@example.org", "when": "next tuesday-ish", "qty": "abc", "zero": 0}}`))
	require.NoError(t, err)
	assert.Equal(t, StatusSent, res.Status)
	require.NotNil(t, msg)
	assert.Equal(t, "next tuesday-ish 1 [] []", msg.TextBody)
}

func TestComposerSendProviderFailure(t *testing.T) {
	t.Parallel()

	f := newComposerFixture(t)
	boom := errors.New("connection refused")
	f.provider.On("Send", mock.Anything, mock.Anything).Return(nil, boom).Once()

	res, err := f.composer.Send(context.Background(), 1,
		strings.NewReader(`{"Data": {"name": "Bob", "email": "bob@example.org"}}`))
	require.ErrorIs(t, err, boom)
	assert.Nil(t, res)

	var authoring *AuthoringError
	assert.False(t, errors.As(err, &authoring))
	assert.Zero(t, f.counter.n)
	f.provider.AssertNumberOfCalls(t, "Send", 1)
}

func TestComposerSendMissingPartial(t *testing.T) {
	t.Parallel()

	f := newComposerFixture(t)
	f.templates[1].HTMLTemplate = `<p>{% partial "footer" %}</p>`

	_, err := f.composer.Send(context.Background(), 1,
		strings.NewReader(`{"Data": {"name": "Bob", "email": "bob@example.org"}}`))
	var authoring *AuthoringError
	require.ErrorAs(t, err, &authoring)
	assert.Equal(t, 1, authoring.TemplateID)
	assert.Equal(t, "html body", authoring.Part)
	assert.ErrorIs(t, err, ErrPartialNotFound)
	f.provider.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestComposerSendTemplateSyntaxError(t *testing.T) {
	t.Parallel()

	f := newComposerFixture(t)
	f.templates[1].SubjectTemplate = "Hi {{ name "

	_, err := f.composer.Send(context.Background(), 1,
		strings.NewReader(`{"Data": {"name": "Bob", "email": "bob@example.org"}}`))
	var authoring *AuthoringError
	require.ErrorAs(t, err, &authoring)
	assert.Equal(t, "subject", authoring.Part)
	f.provider.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestComposerSendAttachesPartialInlineImages(t *testing.T) {
	t.Parallel()

	banner := []byte("banner-bytes")
	f := newComposerFixture(t)
	f.partials["header"] = &Partial{
		Key:               "header",
		HTMLTemplate:      `<img src="{% inline_image "banner.png" %}">`,
		TextTemplate:      `[{{ title }}]`,
		InlineAttachments: []Attachment{{FileName: "banner.png", MediaType: "image/png", Data: banner}},
	}
	f.templates[1].HTMLTemplate = `{% partial "header", title: name %}<img src="{% inline_image "logo.svg" %}">`
	f.templates[1].TextTemplate = `{% partial "header", title: name %}`
	var msg *email.Message
	f.expectSend(&msg)

	_, err := f.composer.Send(context.Background(), 1,
		strings.NewReader(`{"Data": {"name": "Bob", "email": "bob@example.org"}}`))
	require.NoError(t, err)
	require.NotNil(t, msg)

	assert.Equal(t, "[Bob]", msg.TextBody)
	assert.Contains(t, msg.HtmlBody, "cid:"+ContentID(banner))
	assert.Contains(t, msg.HtmlBody, "cid:"+ContentID(logoSVG))

	ids := make([]string, 0, 2)
	for _, att := range msg.InlineAttachments() {
		ids = append(ids, att.ContentID)
	}
	assert.ElementsMatch(t, []string{ContentID(logoSVG), ContentID(banner)}, ids)
}

func TestComposerSendRequestInlineAttachment(t *testing.T) {
	t.Parallel()

	f := newComposerFixture(t)
	f.templates[1].HTMLTemplate = `{% if x has_inline_image "photo.png" %}<img src="{% inline_image "photo.png" %}">{% endif %}`
	var msg *email.Message
	f.expectSend(&msg)

	_, err := f.composer.Send(context.Background(), 1, strings.NewReader(`{
		"InlineAttachments": [{"FileName": "photo.png", "MediaType": "image/png", "Data": "cGhvdG8="}],
		"Data": {"name": "Bob", "email": "bob@example.org"}
	}`))
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, `<img src="cid:`+ContentID([]byte("photo"))+`">`, msg.HtmlBody)
	assert.Len(t, msg.InlineAttachments(), 2)
}

func TestComposerSendInvalidSchema(t *testing.T) {
	t.Parallel()

	f := newComposerFixture(t)
	f.templates[1].JSONSchema = `{"type": 12}`

	_, err := f.composer.Send(context.Background(), 1, strings.NewReader(`{"Data": {}}`))
	var authoring *AuthoringError
	require.ErrorAs(t, err, &authoring)
	assert.Equal(t, "schema", authoring.Part)
	assert.ErrorIs(t, err, ErrInvalidSchema)
}

func TestComposerSendCancelled(t *testing.T) {
	t.Parallel()

	f := newComposerFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.composer.Send(ctx, 1, strings.NewReader(`{"Data": {"name": "Bob", "email": "bob@example.org"}}`))
	require.ErrorIs(t, err, context.Canceled)

	var authoring *AuthoringError
	assert.False(t, errors.As(err, &authoring))
	f.provider.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}
