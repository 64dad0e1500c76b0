package mcp

import (
	"encoding/base64"
	"encoding/json"

	"github.com/InfraWhisperer/focal/internal/errors"
)

// DefaultPageSize is the default number of tools per page
const DefaultPageSize = 15

// ToolsCursorPayload contains pagination state for tools/list.
type ToolsCursorPayload struct {
	V           int    `json:"v"` // cursor version
	Offset      int    `json:"o"` // position in tool list
	ToolsetHash string `json:"h"` // hash of tool definitions
}

// EncodeToolsCursor encodes cursor data to a URL-safe base64 string
func EncodeToolsCursor(offset int, toolsetHash string) string {
	payload := ToolsCursorPayload{
		V:           1,
		Offset:      offset,
		ToolsetHash: toolsetHash,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return ""
	}

	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeToolsCursor decodes and validates a cursor string.
// Returns the offset if valid, or an error if invalid/stale.
func DecodeToolsCursor(cursor string, currentHash string) (int, error) {
	if cursor == "" {
		return 0, nil // Empty cursor = first page
	}

	data, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, errors.New(errors.BadRequest, "invalid cursor encoding", err)
	}

	var payload ToolsCursorPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return 0, errors.New(errors.BadRequest, "invalid cursor format", err)
	}

	if payload.V != 1 {
		return 0, errors.New(errors.BadRequest, "cursor version mismatch", nil)
	}

	if payload.ToolsetHash != currentHash {
		return 0, errors.New(errors.BadRequest, "toolset changed since cursor was issued", nil)
	}

	if payload.Offset < 0 {
		return 0, errors.New(errors.BadRequest, "invalid cursor offset", nil)
	}

	return payload.Offset, nil
}

// PaginateTools returns a page of tools and the next cursor (if more exist).
func PaginateTools(allTools []Tool, offset int, pageSize int, toolsetHash string) ([]Tool, string, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	total := len(allTools)

	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []Tool{}, "", nil // Past end
	}

	end := offset + pageSize
	if end > total {
		end = total
	}

	page := allTools[offset:end]

	var nextCursor string
	if end < total {
		nextCursor = EncodeToolsCursor(end, toolsetHash)
	}

	return page, nextCursor, nil
}
