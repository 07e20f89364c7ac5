package overlay

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// JSONFlag marks a JSON object payload as stale by setting "stale" and "warning".
type JSONFlag struct {
	Warning string
}

// Apply re-encodes base with the stale fields set. Keys come out sorted and
// numbers keep their literal form.
func (o JSONFlag) Apply(base []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(base))
	dec.UseNumber()

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("decode payload: not a JSON object")
	}
	doc["stale"] = true
	doc["warning"] = o.Warning

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return append(out, '\n'), nil
}
