package security

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Limits applied when the session does not set its own.
const (
	DefaultMaxArgumentSize = 1 << 20
	DefaultMaxJSONDepth    = 32
)

// Argument validation errors.
var (
	ErrArgumentsTooLarge = errors.New("arguments exceed maximum size")
	ErrJSONTooDeep       = errors.New("JSON nesting exceeds maximum depth")
	ErrInvalidJSON       = errors.New("invalid JSON")
	ErrNotObject         = errors.New("arguments must be a JSON object")
)

// ValidateArgumentSize checks that data is at most limit bytes.
// A limit <= 0 means DefaultMaxArgumentSize.
func ValidateArgumentSize(data []byte, limit int) error {
	if limit <= 0 {
		limit = DefaultMaxArgumentSize
	}
	if len(data) > limit {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrArgumentsTooLarge, len(data), limit)
	}
	return nil
}

// ValidateJSONDepth checks that data is a single JSON value nested at most
// limit levels deep. It streams tokens so a deeply nested payload is
// rejected before anything decodes it. A limit <= 0 means
// DefaultMaxJSONDepth.
func ValidateJSONDepth(data []byte, limit int) error {
	_, err := scanJSON(data, limit)
	return err
}

// ValidateArguments checks raw tool-call arguments before schema
// validation: size first, then depth, then that the value is an object.
// Empty arguments and null stand for {}.
func ValidateArguments(data []byte, maxSize, maxDepth int) error {
	if err := ValidateArgumentSize(data, maxSize); err != nil {
		return err
	}
	first, err := scanJSON(data, maxDepth)
	if err != nil {
		return err
	}
	switch first {
	case nil, json.Delim('{'):
		return nil
	default:
		return fmt.Errorf("%w, got %s", ErrNotObject, jsonKind(first))
	}
}

// scanJSON walks data token by token and returns the first token, or nil
// for empty input and null.
func scanJSON(data []byte, limit int) (json.Token, error) {
	if limit <= 0 {
		limit = DefaultMaxJSONDepth
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	var first json.Token
	depth, values := 0, 0
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			if depth > 0 {
				return nil, fmt.Errorf("%w: %w", ErrInvalidJSON, io.ErrUnexpectedEOF)
			}
			return first, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidJSON, err)
		}
		if depth == 0 {
			if values++; values > 1 {
				return nil, fmt.Errorf("%w: trailing data after top-level value", ErrInvalidJSON)
			}
			first = tok
		}

		switch tok {
		case json.Delim('{'), json.Delim('['):
			depth++
			if depth > limit {
				return nil, fmt.Errorf("%w: depth %d (max %d)", ErrJSONTooDeep, depth, limit)
			}
		case json.Delim('}'), json.Delim(']'):
			depth--
		}
	}
}

func jsonKind(tok json.Token) string {
	switch tok.(type) {
	case json.Delim:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	default:
		return "number"
	}
}
