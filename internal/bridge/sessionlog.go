package bridge

import (
	"bufio"
	"os"
	"strings"
)

// SessionDiagnostics summarizes terminal-without-evidence markers found
// in the broker session log. These cover cases where the session exits
// without ever producing execution events or open orders.
type SessionDiagnostics struct {
	// TargetsAlreadyHeld is set when the session reported every target
	// as already held and submitted nothing.
	TargetsAlreadyHeld bool

	// WarmupRejected is set when the session rejected submissions that
	// arrived during gateway warm-up.
	WarmupRejected bool
}

// A pair of markers the broker session writes verbatim. The scan is
// substring-based because the surrounding log line format is not ours.
const (
	markerTargetsHeld    = "all targets already held"
	markerWarmupRejected = "rejected during warm-up"
)

// ScanSessionLog extracts diagnostics relevant to a run from the broker
// session log. A missing log yields empty diagnostics.
func (b *Bridge) ScanSessionLog(runID string) (SessionDiagnostics, error) {
	file, err := os.Open(b.cfg.sessionLogPath())
	if err != nil {
		if os.IsNotExist(err) {
			return SessionDiagnostics{}, nil
		}
		return SessionDiagnostics{}, err
	}
	defer file.Close()

	var diag SessionDiagnostics
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if runID != "" && !strings.Contains(line, runID) {
			continue
		}
		if strings.Contains(line, markerTargetsHeld) {
			diag.TargetsAlreadyHeld = true
		}
		if strings.Contains(line, markerWarmupRejected) {
			diag.WarmupRejected = true
		}
	}
	return diag, scanner.Err()
}
