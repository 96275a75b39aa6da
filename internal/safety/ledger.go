package safety

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"roulette/pkg/types"
)

// Ledger holds the blocked-pair set and the append-only report log
// ARCHITECTURAL DISCOVERY: Owned by the hub goroutine like the queue and the
// registry. It is NOT safe for concurrent use.
type Ledger struct {
	blocked map[string]struct{}
	reports []types.Report
	logger  *zap.Logger
	now     func() time.Time
}

// NewLedger creates an empty ledger
func NewLedger(logger *zap.Logger, now func() time.Time) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		blocked: make(map[string]struct{}),
		logger:  logger,
		now:     now,
	}
}

// PairKey is the canonical unordered key for two client ids
func PairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, "|")
}

// Block records the unordered pair. Idempotent; reports whether the pair is new.
func (l *Ledger) Block(a, b string) bool {
	if a == b {
		return false
	}
	key := PairKey(a, b)
	if _, exists := l.blocked[key]; exists {
		return false
	}
	l.blocked[key] = struct{}{}
	return true
}

// IsBlocked reports whether either client blocked the other
func (l *Ledger) IsBlocked(a, b string) bool {
	_, exists := l.blocked[PairKey(a, b)]
	return exists
}

// Report validates and appends a report. The target does not need to be connected.
// FUNCTIONAL DISCOVERY: Reports are never de-duplicated; each call appends
func (l *Ledger) Report(reporterID, targetID, reason, details string) (types.Report, error) {
	payload := types.ReportPayload{Target: targetID, Reason: reason, Details: details}
	if err := payload.Validate(reporterID); err != nil {
		return types.Report{}, err
	}

	report := types.Report{
		ID:         uuid.New().String(),
		ReporterID: reporterID,
		TargetID:   targetID,
		Reason:     reason,
		Details:    details,
		Timestamp:  l.now(),
		Flagged:    types.IsSevereReason(reason),
	}
	l.reports = append(l.reports, report)

	if report.Flagged {
		l.logger.Warn("Report flagged for review",
			zap.String("report_id", report.ID),
			zap.String("reporter", reporterID),
			zap.String("target", targetID),
			zap.String("reason", reason))
	} else {
		l.logger.Info("Report received",
			zap.String("report_id", report.ID),
			zap.String("reason", reason))
	}
	return report, nil
}

// Reports returns a copy of the report log
func (l *Ledger) Reports() []types.Report {
	out := make([]types.Report, len(l.reports))
	copy(out, l.reports)
	return out
}

// ReportCount returns the number of reports received
func (l *Ledger) ReportCount() int {
	return len(l.reports)
}

// BlockedPairs returns the number of blocked pairs
func (l *Ledger) BlockedPairs() int {
	return len(l.blocked)
}
