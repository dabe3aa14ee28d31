package mailer

import (
	"bytes"
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	envelopeURL = "https://schemas.mail-composer.local/envelope.json"
	dataURL     = "https://schemas.mail-composer.local/data.json"

	// maxCachedSchemas bounds the compiled-schema cache; it is cleared when full.
	maxCachedSchemas = 256
)

//go:embed envelope.schema.json
var envelopeSchema []byte

// DataParser validates request payloads and decodes them into
// MailInformation. The request envelope is fixed; its Data property is
// governed by the per-template schema.
type DataParser struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

// NewDataParser returns a parser with an empty schema cache.
func NewDataParser() *DataParser {
	return &DataParser{schemas: make(map[string]*jsonschema.Schema)}
}

// Parse validates payload against the envelope with schema applied to Data.
// Payload problems come back as ValidationErrors listing every violation.
// A blank schema or nil payload is a contract violation (ErrInvalidArgument);
// a schema that does not compile yields ErrInvalidSchema.
func (p *DataParser) Parse(ctx context.Context, schema string, payload io.Reader) (*MailInformation, ValidationErrors, error) {
	if strings.TrimSpace(schema) == "" {
		return nil, nil, fmt.Errorf("%w: schema must not be blank", ErrInvalidArgument)
	}
	if payload == nil {
		return nil, nil, fmt.Errorf("%w: payload must not be nil", ErrInvalidArgument)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	raw, err := io.ReadAll(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("read payload: %w", err)
	}

	doc, verr := decodeDocument(raw)
	if verr != nil {
		return nil, ValidationErrors{*verr}, nil
	}

	compiled, err := p.compile(schema)
	if err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	if err := compiled.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if !errors.As(err, &ve) {
			return nil, nil, fmt.Errorf("validate payload: %w", err)
		}
		errs := flatten(ve, nil)
		sortErrors(errs)
		return nil, errs, nil
	}
	if errs := attachmentErrors(doc); len(errs) > 0 {
		return nil, errs, nil
	}

	info := &MailInformation{}
	if err := json.Unmarshal(raw, info); err != nil {
		return nil, ValidationErrors{decodeError(err)}, nil
	}
	return info, nil, nil
}

// compile returns the composite schema for a per-template schema, compiling
// it on first use.
func (p *DataParser) compile(schema string) (*jsonschema.Schema, error) {
	sum := sha256.Sum256([]byte(schema))
	key := hex.EncodeToString(sum[:])

	p.mu.RLock()
	compiled, ok := p.schemas[key]
	p.mu.RUnlock()
	if ok {
		return compiled, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if compiled, ok := p.schemas[key]; ok {
		return compiled, nil
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	c.AssertFormat = true
	if err := c.AddResource(envelopeURL, bytes.NewReader(envelopeSchema)); err != nil {
		return nil, fmt.Errorf("load envelope schema: %w", err)
	}
	if err := c.AddResource(dataURL, strings.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	compiled, err := c.Compile(envelopeURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	if len(p.schemas) >= maxCachedSchemas {
		p.schemas = make(map[string]*jsonschema.Schema)
	}
	p.schemas[key] = compiled
	return compiled, nil
}

// decodeDocument decodes raw JSON for validation, keeping numbers exact.
func decodeDocument(raw []byte) (any, *ValidationError) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, &ValidationError{Path: "$", Message: "payload is empty"}
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, &ValidationError{Path: "$", Message: "invalid JSON: " + err.Error()}
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &ValidationError{Path: "$", Message: "invalid JSON: unexpected data after top-level value"}
	}
	return doc, nil
}

// flatten collects the leaf causes of a validation error tree.
func flatten(ve *jsonschema.ValidationError, out ValidationErrors) ValidationErrors {
	if len(ve.Causes) == 0 {
		return append(out, ValidationError{Path: instancePath(ve.InstanceLocation), Message: ve.Message})
	}
	for _, cause := range ve.Causes {
		out = flatten(cause, out)
	}
	return out
}

// instancePath converts a JSON pointer such as /To/0 into To[0].
func instancePath(pointer string) string {
	if pointer == "" || pointer == "/" {
		return "$"
	}
	var sb strings.Builder
	for _, token := range strings.Split(strings.TrimPrefix(pointer, "/"), "/") {
		token = strings.NewReplacer("~1", "/", "~0", "~").Replace(token)
		if _, err := strconv.Atoi(token); err == nil && sb.Len() > 0 {
			sb.WriteString("[" + token + "]")
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(token)
	}
	return sb.String()
}

// attachmentErrors reports attachment data that is not valid base64, addressed
// to the attachment it belongs to.
func attachmentErrors(doc any) ValidationErrors {
	obj, _ := doc.(map[string]any)
	var errs ValidationErrors
	for _, field := range []string{"Attachments", "InlineAttachments"} {
		items, _ := obj[field].([]any)
		for i, item := range items {
			att, _ := item.(map[string]any)
			data, ok := att["Data"].(string)
			if !ok {
				continue
			}
			if _, err := base64.StdEncoding.DecodeString(data); err != nil {
				errs = append(errs, ValidationError{
					Path:    fmt.Sprintf("%s[%d].Data", field, i),
					Message: "attachment data is not valid base64: " + err.Error(),
				})
			}
		}
	}
	return errs
}

// decodeError turns a decoding failure that slipped past the schema into a
// validation error.
func decodeError(err error) ValidationError {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return ValidationError{Path: typeErr.Field, Message: fmt.Sprintf("expected %s, but got %s", typeErr.Type, typeErr.Value)}
	}
	var b64Err base64.CorruptInputError
	if errors.As(err, &b64Err) {
		return ValidationError{Path: "$", Message: "attachment data is not valid base64: " + err.Error()}
	}
	return ValidationError{Path: "$", Message: err.Error()}
}
