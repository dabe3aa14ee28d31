package email

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Priority is the importance of a message.
type Priority int

const (
	PriorityNone Priority = iota
	PriorityLow
	PriorityNormal
	PriorityHigh
)

var priorityNames = [...]string{"None", "Low", "Normal", "High"}

// String returns the priority name.
func (p Priority) String() string {
	if p < PriorityNone || p > PriorityHigh {
		return "Priority(" + strconv.Itoa(int(p)) + ")"
	}
	return priorityNames[p]
}

// Valid reports whether p is one of the defined priorities.
func (p Priority) Valid() bool {
	return p >= PriorityNone && p <= PriorityHigh
}

// ParsePriority accepts a priority name (case-insensitive) or its integer
// value, written with or without a zero fraction. An empty string yields PriorityNone.
func ParsePriority(s string) (Priority, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return PriorityNone, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if f != math.Trunc(f) {
			return PriorityNone, fmt.Errorf("priority %s is not an integer", s)
		}
		p := Priority(f)
		if f < float64(PriorityNone) || f > float64(PriorityHigh) {
			return PriorityNone, fmt.Errorf("priority %s out of range", s)
		}
		return p, nil
	}
	for i, name := range priorityNames {
		if strings.EqualFold(name, s) {
			return Priority(i), nil
		}
	}
	return PriorityNone, fmt.Errorf("unknown priority %q", s)
}

// MarshalJSON encodes the priority as its integer value.
func (p Priority) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Itoa(int(p))), nil
}

// UnmarshalJSON accepts either the integer value or the name.
func (p *Priority) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*p = PriorityNone
		return nil
	}
	var raw string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	} else {
		raw = string(data)
	}
	parsed, err := ParsePriority(raw)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Headers returns the X-Priority and Importance headers that express p.
// Only High and Low produce headers.
func (p Priority) Headers() []Header {
	switch p {
	case PriorityHigh:
		return []Header{{Name: "X-Priority", Value: "1 (Highest)"}, {Name: "Importance", Value: "high"}}
	case PriorityLow:
		return []Header{{Name: "X-Priority", Value: "5 (Lowest)"}, {Name: "Importance", Value: "low"}}
	}
	return nil
}
