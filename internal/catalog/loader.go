package catalog

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	gomime "mime"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shineum/mail-composer/internal/email"
	"github.com/shineum/mail-composer/internal/mailer"
)

// Set is a loaded catalog.
type Set struct {
	Templates []*mailer.Template
	Partials  []*mailer.Partial
}

const (
	kindTemplate = "template"
	kindPartial  = "partial"
)

// document is the YAML shape of a catalog entry. A file may hold several
// documents separated by "---".
type document struct {
	Kind string `yaml:"kind"`

	// template
	ID                int            `yaml:"id"`
	Name              string         `yaml:"name"`
	From              *address       `yaml:"from"`
	To                []address      `yaml:"to"`
	Cc                []address      `yaml:"cc"`
	Bcc               []address      `yaml:"bcc"`
	ReplyTo           []address      `yaml:"reply_to"`
	Tags              []string       `yaml:"tags"`
	Headers           []email.Header `yaml:"headers"`
	Priority          string         `yaml:"priority"`
	Subject           string         `yaml:"subject"`
	Schema            yaml.Node      `yaml:"schema"`
	Attachments       []attachment   `yaml:"attachments"`
	InlineAttachments []attachment   `yaml:"inline_attachments"`

	// partial
	Key string `yaml:"key"`

	HTML string `yaml:"html"`
	Text string `yaml:"text"`
}

// address accepts either "Name <addr>" or a mapping with address and name.
type address email.Address

func (a *address) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*a = address(email.ParseAddress(node.Value))
		return nil
	}
	var full email.Address
	if err := node.Decode(&full); err != nil {
		return err
	}
	*a = address(full)
	return nil
}

type attachment struct {
	FileName  string `yaml:"file_name"`
	MediaType string `yaml:"media_type"`
	Path      string `yaml:"path"`
	Data      string `yaml:"data"`
}

// LoadDir reads every *.yaml and *.yml file under dir in fsys. Attachment
// paths are resolved relative to the file that names them.
func LoadDir(fsys fs.FS, dir string) (*Set, error) {
	var files []string
	err := fs.WalkDir(fsys, dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != dir && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		switch path.Ext(p) {
		case ".yaml", ".yml":
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk catalog: %w", err)
	}
	sort.Strings(files)

	set := &Set{}
	templateSrc := map[int]string{}
	partialSrc := map[string]string{}

	for _, file := range files {
		docs, err := readDocuments(fsys, file)
		if err != nil {
			return nil, err
		}
		for i, doc := range docs {
			where := fmt.Sprintf("%s#%d", file, i+1)
			switch strings.ToLower(doc.Kind) {
			case kindTemplate:
				t, err := doc.template(fsys, path.Dir(file))
				if err != nil {
					return nil, fmt.Errorf("%s: %w", where, err)
				}
				if prev, ok := templateSrc[t.ID]; ok {
					return nil, fmt.Errorf("%w: template %d in %s and %s", ErrDuplicate, t.ID, prev, where)
				}
				templateSrc[t.ID] = where
				set.Templates = append(set.Templates, t)
			case kindPartial:
				p, err := doc.partial(fsys, path.Dir(file))
				if err != nil {
					return nil, fmt.Errorf("%s: %w", where, err)
				}
				if prev, ok := partialSrc[p.Key]; ok {
					return nil, fmt.Errorf("%w: partial %q in %s and %s", ErrDuplicate, p.Key, prev, where)
				}
				partialSrc[p.Key] = where
				set.Partials = append(set.Partials, p)
			default:
				return nil, fmt.Errorf("%s: %w: unknown kind %q", where, ErrInvalidDocument, doc.Kind)
			}
		}
	}

	return set, nil
}

func readDocuments(fsys fs.FS, file string) ([]document, error) {
	f, err := fsys.Open(file)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", file, err)
	}
	defer f.Close()

	var docs []document
	dec := yaml.NewDecoder(f)
	for {
		var doc document
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %v", file, ErrInvalidDocument, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (d *document) template(fsys fs.FS, base string) (*mailer.Template, error) {
	if d.ID <= 0 {
		return nil, fmt.Errorf("%w: template id must be positive", ErrInvalidDocument)
	}
	if d.HTML == "" && d.Text == "" {
		return nil, fmt.Errorf("%w: template %d has no body", ErrInvalidDocument, d.ID)
	}

	priority, err := email.ParsePriority(d.Priority)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	schema, err := schemaText(&d.Schema)
	if err != nil {
		return nil, err
	}
	attachments, err := loadAttachments(fsys, base, d.Attachments)
	if err != nil {
		return nil, err
	}
	inline, err := loadAttachments(fsys, base, d.InlineAttachments)
	if err != nil {
		return nil, err
	}

	t := &mailer.Template{
		ID:                d.ID,
		Name:              d.Name,
		To:                addresses(d.To),
		Cc:                addresses(d.Cc),
		Bcc:               addresses(d.Bcc),
		ReplyTo:           addresses(d.ReplyTo),
		Tags:              d.Tags,
		Headers:           d.Headers,
		Priority:          priority,
		SubjectTemplate:   d.Subject,
		HTMLTemplate:      d.HTML,
		TextTemplate:      d.Text,
		JSONSchema:        schema,
		Attachments:       attachments,
		InlineAttachments: inline,
	}
	if d.From != nil {
		from := email.Address(*d.From)
		t.From = &from
	}
	return t, nil
}

func (d *document) partial(fsys fs.FS, base string) (*mailer.Partial, error) {
	if d.Key == "" {
		return nil, fmt.Errorf("%w: partial key is required", ErrInvalidDocument)
	}
	inline, err := loadAttachments(fsys, base, d.InlineAttachments)
	if err != nil {
		return nil, err
	}
	return &mailer.Partial{
		Key:               d.Key,
		HTMLTemplate:      d.HTML,
		TextTemplate:      d.Text,
		InlineAttachments: inline,
	}, nil
}

// schemaText accepts the schema as a JSON string or as a YAML mapping. A
// missing schema accepts any object.
func schemaText(node *yaml.Node) (string, error) {
	switch node.Kind {
	case 0:
		return `{"type":"object"}`, nil
	case yaml.ScalarNode:
		return node.Value, nil
	}
	var v any
	if err := node.Decode(&v); err != nil {
		return "", fmt.Errorf("%w: schema: %v", ErrInvalidDocument, err)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: schema: %v", ErrInvalidDocument, err)
	}
	return string(b), nil
}

func loadAttachments(fsys fs.FS, base string, in []attachment) ([]mailer.Attachment, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]mailer.Attachment, 0, len(in))
	for _, a := range in {
		name := a.FileName
		if name == "" && a.Path != "" {
			name = path.Base(a.Path)
		}
		if name == "" {
			return nil, fmt.Errorf("%w: attachment without file name", ErrInvalidDocument)
		}

		var data []byte
		var err error
		switch {
		case a.Path != "":
			data, err = fs.ReadFile(fsys, path.Join(base, a.Path))
			if err != nil {
				return nil, fmt.Errorf("%w: attachment %s: %v", ErrInvalidDocument, name, err)
			}
		case a.Data != "":
			data, err = base64.StdEncoding.DecodeString(strings.Join(strings.Fields(a.Data), ""))
			if err != nil {
				return nil, fmt.Errorf("%w: attachment %s: %v", ErrInvalidDocument, name, err)
			}
		default:
			return nil, fmt.Errorf("%w: attachment %s needs path or data", ErrInvalidDocument, name)
		}

		mediaType := a.MediaType
		if mediaType == "" {
			mediaType = gomime.TypeByExtension(path.Ext(name))
		}
		out = append(out, mailer.Attachment{FileName: name, MediaType: mediaType, Data: data})
	}
	return out, nil
}

func addresses(in []address) []email.Address {
	if len(in) == 0 {
		return nil
	}
	out := make([]email.Address, len(in))
	for i, a := range in {
		out[i] = email.Address(a)
	}
	return out
}
