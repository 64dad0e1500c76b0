package mcp

import (
	"strings"

	"github.com/InfraWhisperer/focal/internal/errors"
)

// Resource represents a static resource
type Resource struct {
	URI  string `json:"uri"`
	Name string `json:"name"`
}

// ResourceTemplate represents a dynamic resource with URI template
type ResourceTemplate struct {
	URITemplate string `json:"uriTemplate"`
	Name        string `json:"name"`
}

// ResourceHandler is a function that handles a resource read
type ResourceHandler func(uri string) (interface{}, error)

// GetResourceDefinitions returns static resources and resource templates
func (s *MCPServer) GetResourceDefinitions() ([]Resource, []ResourceTemplate) {
	resources := []Resource{
		{
			URI:  "focal://health",
			Name: "Index health",
		},
		{
			URI:  "focal://repos",
			Name: "Configured repositories",
		},
	}

	templates := []ResourceTemplate{
		{
			URITemplate: "focal://symbol/{name}",
			Name:        "Symbol",
		},
	}

	return resources, templates
}

// handleResourceRead handles reading a resource by URI
func (s *MCPServer) handleResourceRead(uri string) (interface{}, error) {
	s.logger.Debug("reading resource", map[string]interface{}{
		"uri": uri,
	})

	if !strings.HasPrefix(uri, "focal://") {
		return nil, errors.New(errors.BadRequest, "expected focal:// scheme", nil)
	}

	path := strings.TrimPrefix(uri, "focal://")
	parts := strings.Split(path, "/")

	if len(parts) == 0 || parts[0] == "" {
		return nil, errors.New(errors.BadRequest, "empty resource path", nil)
	}

	resourceType := parts[0]

	switch resourceType {
	case "health":
		return s.toolGetHealth(map[string]interface{}{})
	case "repos":
		return s.toolGetRepoOverview(map[string]interface{}{})
	case "symbol":
		if len(parts) < 2 {
			return nil, errors.New(errors.BadRequest, "symbol URI requires a symbol name", nil)
		}
		return s.toolQuerySymbol(map[string]interface{}{
			"name": parts[1],
		})
	default:
		return nil, errors.New(errors.NotFound, "unknown resource type: "+resourceType, nil)
	}
}
