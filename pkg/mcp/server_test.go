package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServer_RegistersTools(t *testing.T) {
	s, _ := newTestServer(t)
	require.NotNil(t, s.MCPServer())

	tools := s.tools()
	require.Len(t, tools, 4)

	names := make([]string, len(tools))
	for i, tool := range tools {
		names[i] = tool.Tool.Name
	}
	assert.Equal(t, []string{
		"flowrail.run",
		"flowrail.resume",
		"flowrail.status",
		"flowrail.query",
	}, names)
}

func TestNewServer_DefaultLogger(t *testing.T) {
	_, mem := newTestServer(t)
	s := NewServer(ServerDeps{Store: mem})
	assert.NotNil(t, s.logger)
}
