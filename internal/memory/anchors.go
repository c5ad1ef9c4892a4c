// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package memory

import (
	"encoding/json"
	"fmt"
)

// Anchor is a named [Start,End) byte range into a record's text,
// enabling section-level retrieval without returning the whole record.
type Anchor struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// ParseAnchors decodes the anchors JSON of a record
func ParseAnchors(raw string) (map[string]Anchor, error) {
	if raw == "" {
		return map[string]Anchor{}, nil
	}
	var anchors map[string]Anchor
	if err := json.Unmarshal([]byte(raw), &anchors); err != nil {
		return nil, fmt.Errorf("failed to parse anchors: %w", err)
	}
	return anchors, nil
}

// EncodeAnchors serializes an anchor map to its stored JSON form
func EncodeAnchors(anchors map[string]Anchor) (string, error) {
	if len(anchors) == 0 {
		return "", nil
	}
	data, err := json.Marshal(anchors)
	if err != nil {
		return "", fmt.Errorf("failed to encode anchors: %w", err)
	}
	return string(data), nil
}

// ValidateAnchors checks every anchor against the text bounds
func ValidateAnchors(raw, text string) error {
	anchors, err := ParseAnchors(raw)
	if err != nil {
		return err
	}
	for name, a := range anchors {
		if a.Start < 0 || a.End > len(text) || a.Start >= a.End {
			return fmt.Errorf("anchor %q range [%d,%d) is outside text of length %d",
				name, a.Start, a.End, len(text))
		}
	}
	return nil
}

// AnchorSlice extracts the named section of the text. Returns the
// whole text when name is empty, an error when the anchor is unknown.
func AnchorSlice(raw, text, name string) (string, error) {
	if name == "" {
		return text, nil
	}
	anchors, err := ParseAnchors(raw)
	if err != nil {
		return "", err
	}
	a, ok := anchors[name]
	if !ok {
		return "", fmt.Errorf("unknown anchor: %s", name)
	}
	if a.Start < 0 || a.End > len(text) || a.Start >= a.End {
		return "", fmt.Errorf("anchor %q range [%d,%d) is outside text of length %d",
			name, a.Start, a.End, len(text))
	}
	return text[a.Start:a.End], nil
}
