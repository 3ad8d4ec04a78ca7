package bridge

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/shopspring/decimal"

	"main/pkg/exception"
)

// IntentEntry is one order in the order-intent file handed to a
// short-lived execution process.
type IntentEntry struct {
	ID           string           `json:"id"`
	Symbol       string           `json:"symbol"`
	SignedQty    decimal.Decimal  `json:"signed_qty"`
	Type         string           `json:"type"`
	Limit        *decimal.Decimal `json:"limit,omitempty"`
	SessionFlags []string         `json:"session_flags,omitempty"`
}

// ExecutionParams is the execution-parameter file accompanying an
// intent file.
type ExecutionParams struct {
	LotSize         decimal.Decimal `json:"lot_size"`
	MinQty          decimal.Decimal `json:"min_qty"`
	CashBufferRatio decimal.Decimal `json:"cash_buffer_ratio"`
	CommissionRate  decimal.Decimal `json:"commission_rate"`
	SlippageBps     int64           `json:"slippage_bps"`

	// ManageUnfilled keeps the process resident to reprice unfilled
	// orders instead of exiting after submission.
	ManageUnfilled  bool  `json:"manage_unfilled"`
	UnfilledTimeout int64 `json:"unfilled_timeout_sec,omitempty"`
	RepriceAfter    int64 `json:"reprice_after_sec,omitempty"`
}

// WriteIntents writes the order-intent file for a run and returns its
// path. Overwrites any previous file for the same run: the intent set
// is deterministic per run, so rewriting is idempotent.
func (b *Bridge) WriteIntents(runID string, entries []IntentEntry) (string, error) {
	path := filepath.Join(b.cfg.intentsPath(), runID+".json")
	if err := writeJSON(path, entries); err != nil {
		return "", err
	}
	return path, nil
}

// WriteParams writes the execution-parameter file for a run.
func (b *Bridge) WriteParams(runID string, params ExecutionParams) (string, error) {
	path := filepath.Join(b.cfg.paramsPath(), runID+".json")
	if err := writeJSON(path, params); err != nil {
		return "", err
	}
	return path, nil
}

// ReadIntents loads the order-intent file previously written for a run.
func (b *Bridge) ReadIntents(runID string) ([]IntentEntry, error) {
	path := filepath.Join(b.cfg.intentsPath(), runID+".json")
	var entries []IntentEntry
	if err := readJSON(path, &entries); err != nil {
		if os.IsNotExist(err) {
			return nil, exception.ErrBridgeIntentMismatch
		}
		return nil, err
	}
	return entries, nil
}

// MatchSymbols reads the intent file back and verifies it covers the
// exact symbol set the engine persisted. A mismatch means the file on
// disk is not the file the run submitted, and the run must be
// force-closed with a diagnostic reason.
func (b *Bridge) MatchSymbols(runID string, symbols []string) error {
	entries, err := b.ReadIntents(runID)
	if err != nil {
		return err
	}
	got := make([]string, 0, len(entries))
	for _, e := range entries {
		got = append(got, e.Symbol)
	}
	want := append([]string(nil), symbols...)
	sort.Strings(got)
	sort.Strings(want)
	if len(got) != len(want) {
		return exception.ErrBridgeIntentMismatch
	}
	for i := range got {
		if got[i] != want[i] {
			return exception.ErrBridgeIntentMismatch
		}
	}
	return nil
}
