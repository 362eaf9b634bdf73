package cli

import (
	"strings"
	"testing"
)

func TestMCPServeCmd_NilServices(t *testing.T) {
	saveServices(t)
	Store, Gate, Sched = nil, nil, nil

	err := mcpServeCmd.RunE(mcpServeCmd, nil)
	if err == nil || !strings.Contains(err.Error(), "not initialized") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMCPCommand_HasServe(t *testing.T) {
	for _, cmd := range mcpCmd.Commands() {
		if cmd.Name() == "serve" {
			return
		}
	}
	t.Error("expected 'mcp serve' to be registered")
}
