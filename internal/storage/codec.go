package storage

import (
	"encoding/json"
	"fmt"

	"github.com/org/fakeakv/pkg/models"
)

// Tag and attribute mappings are stored as minified JSON text columns.
// Empty mappings are stored as NULL and decode back to empty maps, so
// absent and empty round-trip identically.

func encodeTags(tags map[string]string) (*string, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("encoding tags: %w", err)
	}
	s := string(data)
	return &s, nil
}

func decodeTags(raw *string) (map[string]string, error) {
	tags := map[string]string{}
	if raw == nil || *raw == "" {
		return tags, nil
	}
	if err := json.Unmarshal([]byte(*raw), &tags); err != nil {
		return nil, fmt.Errorf("decoding tags: %w", err)
	}
	return tags, nil
}

func encodeAttrs(attrs models.Attributes) (*string, error) {
	if len(attrs) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("encoding attributes: %w", err)
	}
	s := string(data)
	return &s, nil
}

func decodeAttrs(raw *string) (models.Attributes, error) {
	attrs := models.Attributes{}
	if raw == nil || *raw == "" {
		return attrs, nil
	}
	if err := json.Unmarshal([]byte(*raw), &attrs); err != nil {
		return nil, fmt.Errorf("decoding attributes: %w", err)
	}
	return attrs, nil
}
