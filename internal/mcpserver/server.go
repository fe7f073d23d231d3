package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all Paycore tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("paycore", "1.0.0")
	client := NewPaycoreClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolGetPaymentStatus, h.HandleGetPaymentStatus)
	s.AddTool(ToolGetEscrow, h.HandleGetEscrow)
	s.AddTool(ToolGetLedger, h.HandleGetLedger)
	s.AddTool(ToolListAlerts, h.HandleListAlerts)
	s.AddTool(ToolAcknowledgeAlert, h.HandleAcknowledgeAlert)
	s.AddTool(ToolResolveDispute, h.HandleResolveDispute)

	return s
}
