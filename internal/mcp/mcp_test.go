package mcp

import (
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"
	"testing"

	ctxengine "github.com/InfraWhisperer/focal/internal/context"
	"github.com/InfraWhisperer/focal/internal/grammar"
	"github.com/InfraWhisperer/focal/internal/graph"
	"github.com/InfraWhisperer/focal/internal/indexer"
	"github.com/InfraWhisperer/focal/internal/logging"
	"github.com/InfraWhisperer/focal/internal/storage"
)

// newTestMCPServer creates an MCP server backed by a fresh on-disk database
// in a temp directory, isolated per test.
func newTestMCPServer(t *testing.T) *MCPServer {
	t.Helper()

	tempDir := t.TempDir()
	logger := logging.NewLogger(logging.Config{
		Format: logging.HumanFormat,
		Level:  logging.ErrorLevel,
		Output: io.Discard,
	})

	db, err := storage.OpenAt(filepath.Join(tempDir, "index.db"), logger)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	registry := grammar.NewRegistry()
	ix := indexer.New(db, registry)
	ctxEng := ctxengine.New(db)
	graphEng := graph.New(db)

	return NewMCPServer("test", db, ix, ctxEng, graphEng, nil, logger)
}

// sendRequest round-trips a single JSON-RPC message through the server and
// returns its response.
func sendRequest(t *testing.T, server *MCPServer, method string, id int, params interface{}) *MCPMessage {
	t.Helper()

	request := MCPMessage{
		Jsonrpc: "2.0",
		Id:      id,
		Method:  method,
		Params:  params,
	}
	requestBytes, err := json.Marshal(request)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}
	requestBytes = append(requestBytes, '\n')

	server.SetStdin(bytes.NewReader(requestBytes))
	server.SetStdout(&bytes.Buffer{})

	msg, err := server.readMessage()
	if err != nil && err != io.EOF {
		t.Fatalf("failed to read message: %v", err)
	}

	return server.handleMessage(msg)
}

func TestMCPServerCreation(t *testing.T) {
	server := newTestMCPServer(t)
	if server == nil {
		t.Fatal("expected non-nil server")
	}
	if len(server.tools) != 19 {
		t.Errorf("expected 19 registered tools, got %d", len(server.tools))
	}
}

func TestInitializeRequest(t *testing.T) {
	server := newTestMCPServer(t)
	resp := sendRequest(t, server, "initialize", 1, map[string]interface{}{})

	if resp == nil {
		t.Fatal("expected a response")
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	result, ok := resp.Result.(*InitializeResult)
	if !ok {
		t.Fatalf("expected *InitializeResult, got %T", resp.Result)
	}
	if result.ServerInfo.Name != "focal" {
		t.Errorf("expected server name focal, got %q", result.ServerInfo.Name)
	}
}

func TestListToolsRequest(t *testing.T) {
	server := newTestMCPServer(t)
	resp := sendRequest(t, server, "tools/list", 1, map[string]interface{}{})

	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("expected map result, got %T", resp.Result)
	}
	tools, ok := result["tools"].([]Tool)
	if !ok {
		t.Fatalf("expected []Tool, got %T", result["tools"])
	}
	if len(tools) == 0 {
		t.Error("expected at least one tool in the first page")
	}
}

func TestListToolsPagination(t *testing.T) {
	server := newTestMCPServer(t)
	all := server.GetToolDefinitions()
	if len(all) != 19 {
		t.Fatalf("expected 19 tools total, got %d", len(all))
	}

	hash := ComputeToolsetHash(all)
	page, cursor, err := PaginateTools(all, 0, 10, hash)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page) != 10 {
		t.Errorf("expected a page of 10, got %d", len(page))
	}
	if cursor == "" {
		t.Fatal("expected a next cursor since more tools remain")
	}

	offset, err := DecodeToolsCursor(cursor, hash)
	if err != nil {
		t.Fatalf("failed to decode cursor: %v", err)
	}
	if offset != 10 {
		t.Errorf("expected offset 10, got %d", offset)
	}
}

func TestCallUnknownTool(t *testing.T) {
	server := newTestMCPServer(t)
	resp := sendRequest(t, server, "tools/call", 1, map[string]interface{}{
		"name":      "does_not_exist",
		"arguments": map[string]interface{}{},
	})

	if resp.Error == nil {
		t.Fatal("expected an error for an unknown tool")
	}
}

func TestSaveAndListMemory(t *testing.T) {
	server := newTestMCPServer(t)

	saveResp := sendRequest(t, server, "tools/call", 1, map[string]interface{}{
		"name": "save_memory",
		"arguments": map[string]interface{}{
			"content":  "prefer composition over inheritance here",
			"category": "convention",
		},
	})
	if saveResp.Error != nil {
		t.Fatalf("unexpected error saving memory: %v", saveResp.Error)
	}

	listResp := sendRequest(t, server, "tools/call", 2, map[string]interface{}{
		"name":      "list_memories",
		"arguments": map[string]interface{}{},
	})
	if listResp.Error != nil {
		t.Fatalf("unexpected error listing memories: %v", listResp.Error)
	}
}

func TestQuerySymbolNotFound(t *testing.T) {
	server := newTestMCPServer(t)
	resp := sendRequest(t, server, "tools/call", 1, map[string]interface{}{
		"name": "query_symbol",
		"arguments": map[string]interface{}{
			"name": "NoSuchSymbol",
		},
	})
	if resp.Error != nil {
		t.Fatalf("unexpected top-level error: %v", resp.Error)
	}
}

func TestQuerySymbolMissingName(t *testing.T) {
	server := newTestMCPServer(t)
	resp := sendRequest(t, server, "tools/call", 1, map[string]interface{}{
		"name":      "query_symbol",
		"arguments": map[string]interface{}{},
	})
	// A tool-level validation failure is carried inside the envelope's
	// content, not surfaced as a JSON-RPC-level error.
	if resp.Error != nil {
		t.Fatalf("unexpected top-level error: %v", resp.Error)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("expected map result, got %T", resp.Result)
	}
	content, ok := result["content"].([]map[string]interface{})
	if !ok || len(content) == 0 {
		t.Fatalf("expected content array, got %v", result["content"])
	}
	if !bytes.Contains([]byte(content[0]["text"].(string)), []byte("BAD_REQUEST")) {
		t.Errorf("expected envelope error to mention BAD_REQUEST, got %s", content[0]["text"])
	}
}

func TestGetHealth(t *testing.T) {
	server := newTestMCPServer(t)
	resp := sendRequest(t, server, "tools/call", 1, map[string]interface{}{
		"name":      "get_health",
		"arguments": map[string]interface{}{},
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
}

func TestResourceReadHealth(t *testing.T) {
	server := newTestMCPServer(t)
	resp := sendRequest(t, server, "resources/read", 1, map[string]interface{}{
		"uri": "focal://health",
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
}

func TestResourceReadUnknownScheme(t *testing.T) {
	server := newTestMCPServer(t)
	resp := sendRequest(t, server, "resources/read", 1, map[string]interface{}{
		"uri": "bogus://health",
	})
	if resp.Error == nil {
		t.Fatal("expected an error for a non-focal:// URI")
	}
}

func TestRecoverSessionResetsAlreadySent(t *testing.T) {
	server := newTestMCPServer(t)
	server.markSent(42)
	if !server.wasSent(42) {
		t.Fatal("expected symbol 42 to be marked sent")
	}

	resp := sendRequest(t, server, "tools/call", 1, map[string]interface{}{
		"name":      "recover_session",
		"arguments": map[string]interface{}{},
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	if server.wasSent(42) {
		t.Error("expected already-sent set to be cleared after recover_session")
	}
}

func TestComputeToolsetHashStableAndSensitive(t *testing.T) {
	server := newTestMCPServer(t)
	all := server.GetToolDefinitions()

	h1 := ComputeToolsetHash(all)
	h2 := ComputeToolsetHash(all)
	if h1 != h2 {
		t.Error("expected ComputeToolsetHash to be deterministic")
	}

	trimmed := all[:len(all)-1]
	h3 := ComputeToolsetHash(trimmed)
	if h1 == h3 {
		t.Error("expected hash to change when the toolset changes")
	}
}
