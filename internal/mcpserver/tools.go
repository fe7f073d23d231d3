package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the Paycore MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolGetPaymentStatus = mcp.NewTool("get_payment_status",
	mcp.WithDescription(
		"Look up a shift payment on the Paycore platform. "+
			"Returns the payment's lifecycle status (pending/held/paid/refunded/disputed/failed), "+
			"amounts, fee split, gateway, and linked escrow ID."),
	mcp.WithString("payment_id",
		mcp.Required(),
		mcp.Description("The payment ID (e.g. 'pay_...')")),
)

var ToolGetEscrow = mcp.NewTool("get_escrow",
	mcp.WithDescription(
		"Look up an escrow record: its state machine position, captured amount, "+
			"and current balance in minor units. Use get_ledger for the full history."),
	mcp.WithString("escrow_id",
		mcp.Required(),
		mcp.Description("The escrow ID (e.g. 'esc_...')")),
)

var ToolGetLedger = mcp.NewTool("get_ledger",
	mcp.WithDescription(
		"Fetch the append-only ledger for an escrow: every balance-changing event "+
			"in sequence order with its state transition, signed amount delta, and actor. "+
			"This is the audit trail; the escrow balance is always the sum of these entries."),
	mcp.WithString("escrow_id",
		mcp.Required(),
		mcp.Description("The escrow ID (e.g. 'esc_...')")),
)

var ToolListAlerts = mcp.NewTool("list_alerts",
	mcp.WithDescription(
		"List operational alerts raised by the platform: failed payouts, orphaned captures, "+
			"rejected webhooks, ledger drift, and stuck escrows. "+
			"These are escalations that need an operator decision."),
	mcp.WithBoolean("unacked_only",
		mcp.Description("Only return alerts that have not been acknowledged yet (default false)")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of alerts to return (default 20)")),
)

var ToolAcknowledgeAlert = mcp.NewTool("acknowledge_alert",
	mcp.WithDescription(
		"Mark an operational alert as handled after the underlying issue has been worked."),
	mcp.WithString("alert_id",
		mcp.Required(),
		mcp.Description("The alert ID from list_alerts (e.g. 'alr_...')")),
)

var ToolResolveDispute = mcp.NewTool("resolve_dispute",
	mcp.WithDescription(
		"Apply an operator decision to a disputed escrow. "+
			"'release' pays the held funds out to the worker; 'refund' returns them to the client. "+
			"This is the only way an escrow leaves the disputed state, and it is final."),
	mcp.WithString("escrow_id",
		mcp.Required(),
		mcp.Description("The disputed escrow's ID (e.g. 'esc_...')")),
	mcp.WithString("outcome",
		mcp.Required(),
		mcp.Description("Resolution outcome: 'release' (worker favored) or 'refund' (client favored)"),
		mcp.Enum("release", "refund")),
	mcp.WithString("reason",
		mcp.Required(),
		mcp.Description("Explanation of the decision, recorded in the ledger entry")),
)
