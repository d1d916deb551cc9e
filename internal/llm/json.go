package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

var (
	objectPattern   = regexp.MustCompile(`(?s)\{.*\}`)
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
)

// ErrNoJSON is returned when a response contains no JSON object.
var ErrNoJSON = errors.New("no JSON object in response")

// ExtractJSON pulls the outermost object out of a model response, tolerating
// surrounding prose and markdown fences. If the object does not parse, one
// repair pass removes trailing commas before giving up.
func ExtractJSON(text string) ([]byte, error) {
	candidate := objectPattern.FindString(text)
	if candidate == "" {
		return nil, ErrNoJSON
	}
	if json.Valid([]byte(candidate)) {
		return []byte(candidate), nil
	}
	fixed := trailingCommaRe.ReplaceAllString(candidate, "$1")
	if !json.Valid([]byte(fixed)) {
		var parsed any
		err := json.Unmarshal([]byte(fixed), &parsed)
		return nil, fmt.Errorf("malformed JSON after repair: %w", err)
	}
	return []byte(fixed), nil
}

// DecodeJSON extracts and unmarshals a model response into v.
func DecodeJSON(text string, v any) error {
	raw, err := ExtractJSON(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode model JSON: %w", err)
	}
	return nil
}
