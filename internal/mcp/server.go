package mcp

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	ctxengine "github.com/InfraWhisperer/focal/internal/context"
	"github.com/InfraWhisperer/focal/internal/errors"
	"github.com/InfraWhisperer/focal/internal/graph"
	"github.com/InfraWhisperer/focal/internal/indexer"
	"github.com/InfraWhisperer/focal/internal/logging"
	"github.com/InfraWhisperer/focal/internal/storage"
	"github.com/InfraWhisperer/focal/internal/watcher"
)

// MCPServer dispatches the tool protocol over a transport, backed by a
// single shared database, the indexer, and the context/traversal engines.
type MCPServer struct {
	stdin     io.Reader
	stdout    io.Writer
	scanner   *bufio.Scanner
	logger    *logging.Logger
	version   string
	tools     map[string]ToolHandler
	resources map[string]ResourceHandler

	db      *storage.DB
	indexer *indexer.Indexer
	context *ctxengine.Engine
	graph   *graph.Engine
	watcher *watcher.Watcher

	sessionID   string
	alreadySent map[int64]bool
	mu          sync.RWMutex

	roots *rootsManager
}

// NewMCPServer creates an MCP server wired to the shared store, the
// indexer, the context/traversal engines, and (optionally) the watcher.
func NewMCPServer(version string, db *storage.DB, ix *indexer.Indexer, ctx *ctxengine.Engine, gr *graph.Engine, w *watcher.Watcher, logger *logging.Logger) *MCPServer {
	server := &MCPServer{
		stdin:       os.Stdin,
		stdout:      os.Stdout,
		logger:      logger,
		version:     version,
		db:          db,
		indexer:     ix,
		context:     ctx,
		graph:       gr,
		watcher:     w,
		tools:       make(map[string]ToolHandler),
		resources:   make(map[string]ResourceHandler),
		sessionID:   uuid.NewString(),
		alreadySent: make(map[int64]bool),
		roots:       newRootsManager(),
	}

	server.RegisterTools()

	return server
}

// Start starts the MCP server and begins processing messages.
func (s *MCPServer) Start() error {
	s.logger.Info("MCP server starting", map[string]interface{}{
		"version":    s.version,
		"session_id": s.sessionID,
	})

	for {
		msg, err := s.readMessage()
		if err != nil {
			if err == io.EOF {
				s.logger.Info("MCP server shutting down (EOF)", nil)
				s.roots.CancelAllPending()
				return nil
			}
			s.logger.Error("error reading message", map[string]interface{}{
				"error": err.Error(),
			})

			if msg != nil && msg.Id != nil {
				_ = s.writeError(msg.Id, ParseError, fmt.Sprintf("failed to parse message: %v", err))
			}
			continue
		}

		response := s.handleMessage(msg)

		if response != nil {
			if err := s.writeMessage(response); err != nil {
				s.logger.Error("error writing response", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}
}

// SetStdin sets the input stream (for testing).
func (s *MCPServer) SetStdin(r io.Reader) {
	s.stdin = r
	s.scanner = nil
}

// SetStdout sets the output stream (for testing).
func (s *MCPServer) SetStdout(w io.Writer) {
	s.stdout = w
}

// GetRoots returns the current MCP roots from the client.
func (s *MCPServer) GetRoots() []Root {
	if s.roots == nil {
		return nil
	}
	return s.roots.GetRoots()
}

// GetRootPaths returns the filesystem paths for all client roots.
func (s *MCPServer) GetRootPaths() []string {
	if s.roots == nil {
		return nil
	}
	return s.roots.GetPaths()
}

// HasClientRoots returns true if the client provided any roots.
func (s *MCPServer) HasClientRoots() bool {
	return len(s.GetRoots()) > 0
}

// SendNotification sends a JSON-RPC notification to the client.
func (s *MCPServer) SendNotification(method string, params interface{}) error {
	msg := &MCPMessage{
		Jsonrpc: "2.0",
		Method:  method,
		Params:  params,
	}
	return s.writeMessage(msg)
}

// wasSent reports whether symbolID has already had its full body delivered
// in this session.
func (s *MCPServer) wasSent(symbolID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alreadySent[symbolID]
}

// alreadySentSnapshot returns a copy of the already-sent set, for handing
// to the context engine without holding the server lock across a query.
func (s *MCPServer) alreadySentSnapshot() map[int64]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]bool, len(s.alreadySent))
	for id, v := range s.alreadySent {
		out[id] = v
	}
	return out
}

// markSent records that symbolIDs have now had their full body delivered.
func (s *MCPServer) markSent(symbolIDs ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range symbolIDs {
		s.alreadySent[id] = true
	}
}

// resetSession issues a new session id and clears the already-sent set,
// used by recover_session.
func (s *MCPServer) resetSession() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alreadySent = make(map[int64]bool)
	s.sessionID = uuid.NewString()
	return s.sessionID
}

// currentSessionID returns the active session id.
func (s *MCPServer) currentSessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// resolveRepoID resolves the optional repo? parameter (a repo name or a
// root-path prefix) to a repository id. An empty selector resolves to nil,
// meaning "search across all repositories".
func (s *MCPServer) resolveRepoID(repo string) (*int64, error) {
	if repo == "" {
		return nil, nil
	}

	if r, err := s.db.GetRepositoryByName(repo); err != nil {
		return nil, fmt.Errorf("failed to look up repository %q: %w", repo, err)
	} else if r != nil {
		return &r.ID, nil
	}

	repos, err := s.db.ListRepositories()
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	for _, r := range repos {
		if strings.HasPrefix(r.RootPath, repo) {
			id := r.ID
			return &id, nil
		}
	}

	return nil, errors.New(errors.NotFound, fmt.Sprintf("no repository matches %q", repo), nil)
}

// recordAutoObservation synthesizes a compact auto-observation memory for
// a symbol-touching tool call, per the tool dispatcher's obligation to
// leave a trail of what was looked at and why.
func (s *MCPServer) recordAutoObservation(tool, content string, symbolIDs []int64) {
	if len(symbolIDs) == 0 {
		return
	}
	if len(content) > 200 {
		content = content[:200]
	}
	if _, err := s.db.SaveAutoObservation(content, "auto:"+tool, s.currentSessionID(), symbolIDs); err != nil {
		s.logger.Warn("failed to record auto-observation", map[string]interface{}{
			"tool":  tool,
			"error": err.Error(),
		})
	}
}
