package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *PaycoreClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *PaycoreClient) *Handlers {
	return &Handlers{client: client}
}

// HandleGetPaymentStatus looks up a shift payment.
func (h *Handlers) HandleGetPaymentStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	paymentID := req.GetString("payment_id", "")
	if paymentID == "" {
		return mcp.NewToolResultError("payment_id is required"), nil
	}

	raw, err := h.client.GetPayment(ctx, paymentID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get payment: %v", err)), nil
	}

	text, err := formatPayment(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse payment: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetEscrow looks up an escrow record.
func (h *Handlers) HandleGetEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	escrowID := req.GetString("escrow_id", "")
	if escrowID == "" {
		return mcp.NewToolResultError("escrow_id is required"), nil
	}

	raw, err := h.client.GetEscrow(ctx, escrowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get escrow: %v", err)), nil
	}

	text, err := formatEscrow(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse escrow: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetLedger fetches the audit trail for an escrow.
func (h *Handlers) HandleGetLedger(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	escrowID := req.GetString("escrow_id", "")
	if escrowID == "" {
		return mcp.NewToolResultError("escrow_id is required"), nil
	}

	raw, err := h.client.GetLedger(ctx, escrowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get ledger: %v", err)), nil
	}

	text, err := formatLedger(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse ledger: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleListAlerts lists operational alerts.
func (h *Handlers) HandleListAlerts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	unackedOnly := req.GetBool("unacked_only", false)
	limit := req.GetInt("limit", 20)

	raw, err := h.client.ListAlerts(ctx, unackedOnly, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list alerts: %v", err)), nil
	}

	text, err := formatAlertList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse alerts: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleAcknowledgeAlert marks an alert as handled.
func (h *Handlers) HandleAcknowledgeAlert(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	alertID := req.GetString("alert_id", "")
	if alertID == "" {
		return mcp.NewToolResultError("alert_id is required"), nil
	}

	if _, err := h.client.AcknowledgeAlert(ctx, alertID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to acknowledge alert: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Alert %s acknowledged.", alertID)), nil
}

// HandleResolveDispute applies an operator decision to a disputed escrow.
func (h *Handlers) HandleResolveDispute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	escrowID := req.GetString("escrow_id", "")
	if escrowID == "" {
		return mcp.NewToolResultError("escrow_id is required"), nil
	}
	outcome := req.GetString("outcome", "")
	if outcome != "release" && outcome != "refund" {
		return mcp.NewToolResultError("outcome must be 'release' or 'refund'"), nil
	}
	reason := req.GetString("reason", "")
	if reason == "" {
		return mcp.NewToolResultError("reason is required"), nil
	}

	raw, err := h.client.ResolveDispute(ctx, escrowID, outcome, reason)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to resolve dispute: %v", err)), nil
	}

	text, err := formatPayment(raw)
	if err != nil {
		text = formatJSON(raw)
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Dispute on %s resolved: %s.\nReason: %s\n\n%s",
		escrowID, outcome, reason, text)), nil
}

// --- Formatting helpers ---

func formatPayment(raw json.RawMessage) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("Payment:\n")
	sb.WriteString(fmt.Sprintf("  ID: %s\n", getString(m, "id")))
	sb.WriteString(fmt.Sprintf("  Status: %s\n", getString(m, "status")))
	if v := getString(m, "assignmentId"); v != "" {
		sb.WriteString(fmt.Sprintf("  Assignment: %s\n", v))
	}
	if v := getString(m, "escrowId"); v != "" {
		sb.WriteString(fmt.Sprintf("  Escrow: %s\n", v))
	}
	if v := getString(m, "provider"); v != "" {
		sb.WriteString(fmt.Sprintf("  Gateway: %s\n", v))
	}
	currency := getString(m, "currency")
	if amount, ok := getFloat(m, "amount"); ok {
		sb.WriteString(fmt.Sprintf("  Amount: %s\n", minorUnits(amount, currency)))
	}
	if fee, ok := getFloat(m, "fee"); ok {
		net, _ := getFloat(m, "netAmount")
		sb.WriteString(fmt.Sprintf("  Fee: %s | Net to worker: %s\n",
			minorUnits(fee, currency), minorUnits(net, currency)))
	}
	if v := getString(m, "externalTxId"); v != "" {
		sb.WriteString(fmt.Sprintf("  Gateway tx: %s\n", v))
	}

	return sb.String(), nil
}

func formatEscrow(raw json.RawMessage) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", err
	}

	currency := getString(m, "currency")

	var sb strings.Builder
	sb.WriteString("Escrow:\n")
	sb.WriteString(fmt.Sprintf("  ID: %s\n", getString(m, "id")))
	sb.WriteString(fmt.Sprintf("  State: %s\n", getString(m, "state")))
	sb.WriteString(fmt.Sprintf("  Assignment: %s\n", getString(m, "assignmentId")))
	sb.WriteString(fmt.Sprintf("  Gateway: %s\n", getString(m, "provider")))
	if v, ok := getFloat(m, "capturedAmount"); ok {
		sb.WriteString(fmt.Sprintf("  Captured: %s\n", minorUnits(v, currency)))
	}
	if v, ok := getFloat(m, "currentBalance"); ok {
		sb.WriteString(fmt.Sprintf("  Balance: %s\n", minorUnits(v, currency)))
	}
	if v, ok := getFloat(m, "version"); ok {
		sb.WriteString(fmt.Sprintf("  Version: %.0f\n", v))
	}

	return sb.String(), nil
}

func formatLedger(raw json.RawMessage) (string, error) {
	// Try as {"entries": [...]}
	var wrapper struct {
		Entries []map[string]any `json:"entries"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil || wrapper.Entries == nil {
		// Try as direct array
		if err := json.Unmarshal(raw, &wrapper.Entries); err != nil {
			return "", fmt.Errorf("unexpected ledger response format")
		}
	}

	if len(wrapper.Entries) == 0 {
		return "No ledger entries for this escrow.", nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Ledger (%d entries):\n\n", len(wrapper.Entries)))
	var balance float64
	for _, e := range wrapper.Entries {
		seq, _ := getFloat(e, "sequence")
		delta, _ := getFloat(e, "amountDelta")
		balance += delta
		sb.WriteString(fmt.Sprintf("%.0f. %s -> %s | delta %+.0f | actor %s\n",
			seq,
			getString(e, "fromState"),
			getString(e, "toState"),
			delta,
			getString(e, "actor")))
		if v := getString(e, "idempotencyKey"); v != "" {
			sb.WriteString(fmt.Sprintf("   key: %s\n", v))
		}
	}
	sb.WriteString(fmt.Sprintf("\nBalance (sum of deltas): %.0f minor units\n", balance))
	return sb.String(), nil
}

func formatAlertList(raw json.RawMessage) (string, error) {
	// Try as {"alerts": [...]}
	var wrapper struct {
		Alerts []map[string]any `json:"alerts"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil || wrapper.Alerts == nil {
		// Try as direct array
		if err := json.Unmarshal(raw, &wrapper.Alerts); err != nil {
			return "", fmt.Errorf("unexpected alerts response format")
		}
	}

	if len(wrapper.Alerts) == 0 {
		return "No alerts. All clear.", nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d alert(s):\n\n", len(wrapper.Alerts)))
	for i, a := range wrapper.Alerts {
		ack := "UNACKED"
		if b, ok := a["acknowledged"].(bool); ok && b {
			ack = "acked"
		}
		sb.WriteString(fmt.Sprintf("%d. [%s] %s (%s)\n", i+1, getString(a, "kind"), getString(a, "id"), ack))
		sb.WriteString(fmt.Sprintf("   %s\n", getString(a, "message")))
		if v := getString(a, "escrowId"); v != "" {
			sb.WriteString(fmt.Sprintf("   Escrow: %s\n", v))
		}
		if i < len(wrapper.Alerts)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}

// minorUnits renders an integer minor-unit amount with its currency.
func minorUnits(v float64, currency string) string {
	if currency == "" {
		return fmt.Sprintf("%.0f minor units", v)
	}
	return fmt.Sprintf("%.0f minor units %s", v, currency)
}

func formatJSON(raw json.RawMessage) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return string(raw)
	}
	return pretty.String()
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%g", f)
			}
		}
	}
	return ""
}

// getFloat extracts a float64 value from a map, trying multiple key names.
func getFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f, ok := v.(float64); ok {
				return f, true
			}
		}
	}
	return 0, false
}
