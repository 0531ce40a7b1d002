package app

import (
	"encoding/json"
	"fmt"
)

// CellInput is the wire form of one content cell. Pointer fields distinguish
// an absent key from a zero value; Content stays raw because its shape is
// client-defined and the server never interprets it.
type CellInput struct {
	ID      *int64          `json:"id"`
	Type    *string         `json:"type"`
	Content json.RawMessage `json:"content"`
}

type cell struct {
	ID      int64           `json:"id"`
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

// normalizeCells validates the cell envelope (id, type, content all present)
// and returns the canonical serialized array, preserving input order. A cell's
// content may be any JSON value, including null.
func normalizeCells(inputs []CellInput) (json.RawMessage, error) {
	cells := make([]cell, 0, len(inputs))
	for i, input := range inputs {
		if input.ID == nil {
			return nil, validationError(fmt.Sprintf("cells[%d]: id is required", i))
		}
		if input.Type == nil || *input.Type == "" {
			return nil, validationError(fmt.Sprintf("cells[%d]: type is required", i))
		}
		if input.Content == nil {
			return nil, validationError(fmt.Sprintf("cells[%d]: content is required", i))
		}
		cells = append(cells, cell{ID: *input.ID, Type: *input.Type, Content: input.Content})
	}

	normalized, err := json.Marshal(cells)
	if err != nil {
		return nil, fmt.Errorf("marshal cells: %w", err)
	}
	return normalized, nil
}
