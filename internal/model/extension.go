package model

import (
	"github.com/PaesslerAG/jsonpath"
)

// QueryExtension evaluates a JSONPath expression (e.g. "$.control_kind"
// or "$.camera_count") against an event's extension map, reaching
// component-specific detail that was never promoted to a typed field
// without hand-rolled map traversal.
func (e *CombatEvent) QueryExtension(path string) (interface{}, error) {
	if e.Extension == nil {
		return nil, nil
	}
	return jsonpath.Get(path, map[string]interface{}(e.Extension))
}

// QueryExtensionString is QueryExtension narrowed to a string result,
// returning "" on a miss, type mismatch, or malformed path rather than
// propagating the error — extension lookups are always best-effort.
func (e *CombatEvent) QueryExtensionString(path string) string {
	v, err := e.QueryExtension(path)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}
