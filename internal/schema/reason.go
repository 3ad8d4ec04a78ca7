package schema

// Reason is a machine-readable code recorded alongside status changes.
// Every blocked, failed or stalled transition carries one.
type Reason string

const (
	ReasonNone Reason = ""

	// Pre-submission blocks. Never auto-retried.
	ReasonGuardHalted       Reason = "guard_halted"
	ReasonOrderNotional     Reason = "order_notional_limit"
	ReasonExposure          Reason = "exposure_limit"
	ReasonTotalNotional     Reason = "total_notional_limit"
	ReasonSymbolCount       Reason = "symbol_count_limit"
	ReasonCashBuffer        Reason = "cash_buffer_limit"
	ReasonRateLimited       Reason = "rate_limited"
	ReasonBridgeUnreachable Reason = "bridge_unreachable"
	ReasonMissingInputs     Reason = "missing_inputs"

	// Reconciliation outcomes.
	ReasonNoProgress        Reason = "no_progress"
	ReasonDeadlineElapsed   Reason = "deadline_elapsed"
	ReasonCommandFailed     Reason = "command_failed"
	ReasonCommandSuperseded Reason = "command_superseded"
	ReasonAbsentFromBroker  Reason = "absent_from_open_orders"
	ReasonTargetsHeld       Reason = "targets_already_held"
	ReasonWarmupRejected    Reason = "session_warmup_rejected"
	ReasonIntentMismatch    Reason = "intent_symbol_mismatch"
	ReasonOperatorCancel    Reason = "operator_cancel"
)
