package command

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Number accepts a JSON number or a numeric string.
type Number float64

func (n *Number) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*n = Number(f)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("expected number, got %s", data)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fmt.Errorf("expected number, got %q", s)
	}
	*n = Number(f)
	return nil
}

func (n *Number) float() *float64 {
	if n == nil {
		return nil
	}
	f := float64(*n)
	return &f
}

// Text accepts a JSON string or a bare number.
type Text string

func (t *Text) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = ""
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = Text(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string, got %s", data)
	}
	*t = Text(n.String())
	return nil
}
