package model

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type ReasonKind string

const (
	ReasonKindSimple     ReasonKind = "simple"
	ReasonKindStructured ReasonKind = "structured"
)

// Reason is the motive attached to an appointment: either free text or a
// titled description. The JSON form is a bare string or an object.
type Reason struct {
	kind        ReasonKind
	text        string
	title       string
	description string
}

func SimpleReason(text string) *Reason {
	return &Reason{kind: ReasonKindSimple, text: strings.TrimSpace(text)}
}

func StructuredReason(title, description string) *Reason {
	return &Reason{
		kind:        ReasonKindStructured,
		title:       strings.TrimSpace(title),
		description: strings.TrimSpace(description),
	}
}

func (r Reason) Kind() ReasonKind { return r.kind }
func (r Reason) Text() string { return r.text }
func (r Reason) Title() string { return r.title }
func (r Reason) Description() string { return r.description }

// Display renders the reason as a single line.
func (r Reason) Display() string {
	switch r.kind {
	case ReasonKindSimple:
		return r.text
	case ReasonKindStructured:
		if r.description == "" {
			return r.title
		}
		return r.title + ": " + r.description
	default:
		return ""
	}
}

type structuredReason struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

func (r Reason) MarshalJSON() ([]byte, error) {
	switch r.kind {
	case ReasonKindSimple:
		return json.Marshal(r.text)
	case ReasonKindStructured:
		return json.Marshal(structuredReason{Title: r.title, Description: r.description})
	default:
		return []byte("null"), nil
	}
}

func (r *Reason) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = Reason{}
		return nil
	}

	switch data[0] {
	case '"':
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*r = *SimpleReason(text)
		return nil
	case '{':
		var s structuredReason
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if strings.TrimSpace(s.Title) == "" {
			return errors.New("structured reason requires a title")
		}
		*r = *StructuredReason(s.Title, s.Description)
		return nil
	default:
		return fmt.Errorf("reason must be a string or an object with a title")
	}
}

// Value implements driver.Valuer, storing the reason as JSONB.
func (r Reason) Value() (driver.Value, error) {
	if r.kind == "" {
		return nil, nil
	}
	return r.MarshalJSON()
}

// Scan implements sql.Scanner.
func (r *Reason) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*r = Reason{}
		return nil
	case []byte:
		return r.UnmarshalJSON(v)
	case string:
		return r.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("cannot scan %T into Reason", src)
	}
}
