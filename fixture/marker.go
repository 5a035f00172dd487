package fixture

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MarkerSeverity mirrors the editor's severity scale.
type MarkerSeverity int

const (
	SeverityHint    MarkerSeverity = 1
	SeverityInfo    MarkerSeverity = 2
	SeverityWarning MarkerSeverity = 4
	SeverityError   MarkerSeverity = 8
)

func (s MarkerSeverity) String() string {
	switch s {
	case SeverityHint:
		return "hint"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

type MarkerTag int

const (
	TagUnnecessary MarkerTag = 1
	TagDeprecated  MarkerTag = 2
)

// Position is a 1-based cursor location.
type Position struct {
	LineNumber int `json:"lineNumber"`
	Column     int `json:"column"`
}

// Range is a 1-based span; the end column is exclusive.
type Range struct {
	StartLineNumber int `json:"startLineNumber"`
	StartColumn     int `json:"startColumn"`
	EndLineNumber   int `json:"endLineNumber"`
	EndColumn       int `json:"endColumn"`
}

// Marker is a diagnostic as serialized by the page. URIs are plain strings.
type Marker struct {
	Range
	Message            string               `json:"message"`
	Severity           MarkerSeverity       `json:"severity"`
	Owner              string               `json:"owner"`
	Resource           string               `json:"resource"`
	Code               *MarkerCode          `json:"code,omitempty"`
	Source             string               `json:"source,omitempty"`
	Tags               []MarkerTag          `json:"tags,omitempty"`
	RelatedInformation []RelatedInformation `json:"relatedInformation,omitempty"`
}

type RelatedInformation struct {
	Range
	Resource string `json:"resource"`
	Message  string `json:"message"`
}

// MarkerCode is either a bare code or a code with a link target. A bare code
// has an empty Target.
type MarkerCode struct {
	Value  string
	Target string
}

func (c MarkerCode) MarshalJSON() ([]byte, error) {
	if c.Target == "" {
		return json.Marshal(c.Value)
	}
	return json.Marshal(struct {
		Value  string `json:"value"`
		Target string `json:"target"`
	}{c.Value, c.Target})
}

func (c *MarkerCode) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		c.Target = ""
		return json.Unmarshal(data, &c.Value)
	}

	var obj struct {
		Value  json.RawMessage `json:"value"`
		Target string          `json:"target"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("marker code: %w", err)
	}
	// Codes are strings in practice, but the editor does not enforce it.
	var value string
	if err := json.Unmarshal(obj.Value, &value); err != nil {
		value = string(obj.Value)
	}
	c.Value, c.Target = value, obj.Target
	return nil
}
