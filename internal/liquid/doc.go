// Package liquid implements a Liquid-compatible template language.
//
// Templates mix literal text with output delimiters {{ expr | filter }} and
// tags {% if %}, {% for %}, {% assign %}, {% capture %} and friends. Data is
// supplied as a Value tree, usually decoded straight from a JSON payload.
//
// The Engine is extensible: RegisterTag adds custom tags whose arguments are
// parsed as "primary, name: value, ...", RegisterOperator adds binary
// operators that bind like comparisons, and RegisterFilter adds filters.
// Per-render state reaches extensions through Context.State, and
// Context.HTML tells them which body is being rendered.
package liquid
