package catalog

import "errors"

var (
	// ErrInvalidDocument is returned for catalog documents that cannot be
	// turned into a template or partial.
	ErrInvalidDocument = errors.New("catalog: invalid document")

	// ErrDuplicate is returned when two documents define the same template
	// id or partial key.
	ErrDuplicate = errors.New("catalog: duplicate entry")
)
