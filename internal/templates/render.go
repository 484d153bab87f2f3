package templates

import (
	"fmt"
	"strings"
)

// Rendered is a request body ready for transport together with the
// message type it was rendered from
type Rendered struct {
	MessageType string
	Body        string
}

// Render substitutes fields into the named template. Missing fields render
// empty. {{field}} gets the library's HTML escaping, {{{field}}} is verbatim.
func (s *Store) Render(name string, fields map[string]any) (Rendered, error) {
	e, err := s.lookup(name)
	if err != nil {
		return Rendered{}, err
	}

	body, err := e.parsed.Render(fields)
	if err != nil {
		return Rendered{}, fmt.Errorf("failed to render template %s: %w", name, err)
	}

	return Rendered{MessageType: strings.ToUpper(name), Body: body}, nil
}

