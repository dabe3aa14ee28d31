package mailer

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrInvalidArgument indicates a caller broke an API contract.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrTemplateNotFound indicates no template exists for the requested id.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrPartialNotFound indicates a template references an unknown partial.
	ErrPartialNotFound = errors.New("partial not found")

	// ErrPartialCycle indicates a partial includes itself, directly or not.
	ErrPartialCycle = errors.New("partial inclusion cycle")

	// ErrPartialDepth indicates partials are nested deeper than allowed.
	ErrPartialDepth = errors.New("partial nesting too deep")

	// ErrInvalidSchema indicates a template carries an unusable JSON Schema.
	ErrInvalidSchema = errors.New("invalid template schema")
)

// AuthoringError is a defect in stored template content: a syntax error, a
// missing or cyclic partial, or a broken schema. It is fatal for the send.
type AuthoringError struct {
	TemplateID int
	Part       string
	Err        error
}

func (e *AuthoringError) Error() string {
	return fmt.Sprintf("template %d: %s: %v", e.TemplateID, e.Part, e.Err)
}

func (e *AuthoringError) Unwrap() error {
	return e.Err
}

// ValidationError is one payload violation.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationErrors lists every payload violation found.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Path + ": " + e.Message
	}
	return "invalid payload: " + strings.Join(msgs, "; ")
}

// ByField groups messages by path.
func (v ValidationErrors) ByField() map[string][]string {
	out := make(map[string][]string, len(v))
	for _, e := range v {
		out[e.Path] = append(out[e.Path], e.Message)
	}
	return out
}

// sortErrors orders violations by path, keeping the validator's order
// within a path.
func sortErrors(v ValidationErrors) {
	sort.SliceStable(v, func(i, j int) bool { return v[i].Path < v[j].Path })
}
