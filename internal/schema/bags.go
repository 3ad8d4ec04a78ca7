package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// The parameter bags below replace free-form maps on Run and Order with
// typed extension structures, one per concern. Only Provenance stays a
// plain map and carries nothing load-bearing.

// SizingSpec captures the inputs the intent builder sized a run with.
type SizingSpec struct {
	PortfolioValue  decimal.Decimal            `json:"portfolio_value"`
	CashBufferRatio decimal.Decimal            `json:"cash_buffer_ratio"`
	LotSize         decimal.Decimal            `json:"lot_size"`
	MinQty          decimal.Decimal            `json:"min_qty"`
	TargetWeights   map[string]decimal.Decimal `json:"target_weights,omitempty"`
}

// SubmissionMeta records how and when a run spent its submission channel.
type SubmissionMeta struct {
	Channel     Channel    `json:"channel"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	CommandIDs  []string   `json:"command_ids,omitempty"`
	IntentPath  string     `json:"intent_path,omitempty"`
	ParamsPath  string     `json:"params_path,omitempty"`
	ProcessID   int        `json:"process_id,omitempty"`

	// IntentSymbols is the symbol set written to the intent file at
	// submission time. The reconcile pass verifies the file on disk
	// against this set, not against live order state, so orders going
	// terminal later never look like file tampering.
	IntentSymbols []string `json:"intent_symbols,omitempty"`

	Superseded     bool   `json:"superseded,omitempty"`
	FallbackReason Reason `json:"fallback_reason,omitempty"`
}

// RiskSnapshot preserves the gate decision taken before submission.
type RiskSnapshot struct {
	Allowed       bool            `json:"allowed"`
	Forced        bool            `json:"forced,omitempty"`
	Reason        Reason          `json:"reason,omitempty"`
	TotalNotional decimal.Decimal `json:"total_notional"`
	SymbolCount   int             `json:"symbol_count"`
	CheckedAt     time.Time       `json:"checked_at"`
}

// CompletionSummary is the deterministic digest of a finished run.
type CompletionSummary struct {
	Filled         int             `json:"filled"`
	PartiallyDone  int             `json:"partially_done"`
	Canceled       int             `json:"canceled"`
	Rejected       int             `json:"rejected"`
	Skipped        int             `json:"skipped"`
	FilledNotional decimal.Decimal `json:"filled_notional"`
}

// Equal reports whether two summaries describe the same outcome.
// Reconciliation uses it to avoid rewriting an unchanged summary.
func (c CompletionSummary) Equal(o CompletionSummary) bool {
	return c.Filled == o.Filled &&
		c.PartiallyDone == o.PartiallyDone &&
		c.Canceled == o.Canceled &&
		c.Rejected == o.Rejected &&
		c.Skipped == o.Skipped &&
		c.FilledNotional.Equal(o.FilledNotional)
}

// Provenance is the escape-hatch map for last-update provenance.
type Provenance map[string]string
