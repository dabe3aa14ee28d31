package mailgun

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/mail-composer/internal/email"
)

type capturedRequest struct {
	values map[string][]string
	files  map[string][]string
	data   map[string]string
}

func newTestProvider(t *testing.T, status int) (*Provider, <-chan capturedRequest) {
	t.Helper()

	captured := make(chan capturedRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/example.com/messages") {
			http.NotFound(w, r)
			return
		}
		req := capturedRequest{
			files: map[string][]string{},
			data:  map[string]string{},
		}
		switch err := r.ParseMultipartForm(1 << 20); {
		case errors.Is(err, http.ErrNotMultipart):
			if err := r.ParseForm(); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			req.values = r.PostForm
		case err != nil:
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		default:
			req.values = r.MultipartForm.Value
		}
		for field, headers := range multipartFiles(r) {
			for _, fh := range headers {
				req.files[field] = append(req.files[field], fh.Filename)
				f, err := fh.Open()
				if err == nil {
					b, _ := io.ReadAll(f)
					_ = f.Close()
					req.data[fh.Filename] = string(b)
				}
			}
		}
		captured <- req

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status == http.StatusOK {
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "<20240301.1@example.com>", "message": "Queued. Thank you."})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "forbidden"})
	}))
	t.Cleanup(srv.Close)

	p, err := New(Config{APIKey: "key-test", Domain: "example.com", From: "noreply@example.com", APIBase: srv.URL + "/v3"})
	require.NoError(t, err)
	return p, captured
}

func multipartFiles(r *http.Request) map[string][]*multipart.FileHeader {
	if r.MultipartForm == nil {
		return nil
	}
	return r.MultipartForm.File
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Domain: "example.com"})
	assert.ErrorContains(t, err, "API key is required")

	_, err = New(Config{APIKey: "key"})
	assert.ErrorContains(t, err, "domain is required")

	p, err := New(Config{APIKey: "key", Domain: "example.com", Region: "eu"})
	require.NoError(t, err)
	assert.Equal(t, "mailgun", p.Name())
}

func TestSend_MapsMessage(t *testing.T) {
	t.Parallel()

	p, captured := newTestProvider(t, http.StatusOK)

	msg := email.NewMessage().
		AddTo(email.Address{Address: "bob@example.org"}).
		AddCc(email.Address{Address: "cc@example.org"}).
		AddBcc(email.Address{Address: "audit@example.org"}).
		AddReplyTo(email.Address{Address: "help@example.org"}).
		AddTag("welcome").
		AddHeader("X-Campaign", "spring").
		SetPriority(email.PriorityHigh).
		Attach(email.Attachment{Filename: "logo.png", ContentType: "image/png", Content: []byte("png"), ContentID: "abc123", Inline: true}).
		Attach(email.Attachment{Filename: "terms.pdf", ContentType: "application/pdf", Content: []byte("pdf")})
	msg.Subject = "Hello"
	msg.TextBody = "Hi Bob"
	msg.HtmlBody = `<img src="cid:abc123">`

	resp, err := p.Send(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "mailgun", resp.Provider)
	assert.Equal(t, "<20240301.1@example.com>", resp.MessageID)

	req := <-captured
	assert.Equal(t, []string{"noreply@example.com"}, req.values["from"])
	assert.Equal(t, []string{"bob@example.org"}, req.values["to"])
	assert.Equal(t, []string{"cc@example.org"}, req.values["cc"])
	assert.Equal(t, []string{"audit@example.org"}, req.values["bcc"])
	assert.Equal(t, []string{"Hello"}, req.values["subject"])
	assert.Equal(t, []string{"Hi Bob"}, req.values["text"])
	assert.Equal(t, []string{`<img src="cid:abc123">`}, req.values["html"])
	assert.Equal(t, []string{"welcome"}, req.values["o:tag"])
	assert.Equal(t, []string{"spring"}, req.values["h:X-Campaign"])
	assert.Equal(t, []string{"1 (Highest)"}, req.values["h:X-Priority"])

	assert.Equal(t, []string{"abc123"}, req.files["inline"])
	assert.Equal(t, []string{"terms.pdf"}, req.files["attachment"])
	assert.Equal(t, "png", req.data["abc123"])
	assert.Equal(t, "pdf", req.data["terms.pdf"])
}

func TestSend_MessageFromOverridesDefault(t *testing.T) {
	t.Parallel()

	p, captured := newTestProvider(t, http.StatusOK)

	msg := email.NewMessage().
		SetFrom(email.Address{Address: "team@example.com"}).
		AddTo(email.Address{Address: "bob@example.org"})
	msg.Subject = "Hi"
	msg.TextBody = "Hi"

	_, err := p.Send(context.Background(), msg)
	require.NoError(t, err)

	req := <-captured
	assert.Equal(t, []string{"team@example.com"}, req.values["from"])
	assert.Empty(t, req.values["html"])
	assert.Empty(t, req.files)
}

func TestSend_Errors(t *testing.T) {
	t.Parallel()

	t.Run("api error", func(t *testing.T) {
		t.Parallel()

		p, _ := newTestProvider(t, http.StatusForbidden)
		msg := email.NewMessage().AddTo(email.Address{Address: "bob@example.org"})
		msg.TextBody = "Hi"

		_, err := p.Send(context.Background(), msg)
		require.ErrorIs(t, err, ErrSendFailed)
	})

	t.Run("no recipients", func(t *testing.T) {
		t.Parallel()

		p, captured := newTestProvider(t, http.StatusOK)
		_, err := p.Send(context.Background(), email.NewMessage())
		require.ErrorIs(t, err, ErrSendFailed)
		assert.Empty(t, captured)
	})
}
