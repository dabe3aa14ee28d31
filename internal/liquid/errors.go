package liquid

import (
	"errors"
	"fmt"
)

var (
	// ErrUndefinedFilter is returned when a template uses a filter that is not registered.
	ErrUndefinedFilter = errors.New("undefined filter")
	// ErrUnknownTag is returned when a template uses a tag that is not registered.
	ErrUnknownTag = errors.New("unknown tag")

	errBreak    = errors.New("break outside of loop")
	errContinue = errors.New("continue outside of loop")
)

// SyntaxError reports a template that cannot be parsed.
type SyntaxError struct {
	Line int
	Msg  string
	Err  error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("liquid: syntax error on line %d: %s", e.Line, e.Msg)
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

// RenderError reports a failure while rendering a parsed template.
type RenderError struct {
	Line int
	Err  error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("liquid: line %d: %v", e.Line, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// renderErr wraps err with the line of the failing node unless it already
// carries one or is a loop control signal.
func renderErr(line int, err error) error {
	if err == nil || errors.Is(err, errBreak) || errors.Is(err, errContinue) {
		return err
	}
	var re *RenderError
	if errors.As(err, &re) {
		return err
	}
	return &RenderError{Line: line, Err: err}
}
