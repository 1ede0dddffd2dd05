package transfer

import (
	"sort"
	"strings"
	"time"

	"github.com/asmadek/omni-mst-backend/internal/pkg/model"
)

type EvidenceSource string

const (
	SourceOnChain   EvidenceSource = "ON_CHAIN"
	SourceMessaging EvidenceSource = "MESSAGING"
)

// Evidence is one observed approval from one channel. The same evidence may
// arrive more than once and in any order relative to other evidence.
type Evidence struct {
	SignatoryKey string
	Source       EvidenceSource
	ObservedAt   time.Time
}

type LedgerEntry struct {
	ConfirmedOnChain      bool
	ConfirmedViaMessaging bool
	FirstSeenAt           time.Time
}

func (e LedgerEntry) Effective() bool {
	return e.ConfirmedOnChain || e.ConfirmedViaMessaging
}

// Ledger is the per-transaction approval state. Merge is a monotonic join:
// commutative, idempotent, and flags never flip back to false, so the two
// delivery channels can race and duplicate freely.
type Ledger struct {
	entries map[string]LedgerEntry
}

func NewLedger() *Ledger {
	return &Ledger{entries: map[string]LedgerEntry{}}
}

func LedgerFromApprovals(rows []model.Approval) *Ledger {
	ledger := NewLedger()
	for _, row := range rows {
		ledger.entries[normalizeSignatoryKey(row.SignatoryKey)] = LedgerEntry{
			ConfirmedOnChain:      row.ConfirmedOnChain,
			ConfirmedViaMessaging: row.ConfirmedViaMessaging,
			FirstSeenAt:           row.FirstSeenAt,
		}
	}
	return ledger
}

// Merge folds evidence into the ledger and reports whether anything changed.
func (l *Ledger) Merge(evidence Evidence) bool {
	key := normalizeSignatoryKey(evidence.SignatoryKey)

	entry, known := l.entries[key]
	next := entry
	if !known {
		next.FirstSeenAt = evidence.ObservedAt
	} else if !evidence.ObservedAt.IsZero() && evidence.ObservedAt.Before(next.FirstSeenAt) {
		next.FirstSeenAt = evidence.ObservedAt
	}

	switch evidence.Source {
	case SourceOnChain:
		next.ConfirmedOnChain = true
	case SourceMessaging:
		next.ConfirmedViaMessaging = true
	}

	if known && next == entry {
		return false
	}
	l.entries[key] = next
	return true
}

func (l *Ledger) Entry(signatoryKey string) (LedgerEntry, bool) {
	entry, ok := l.entries[normalizeSignatoryKey(signatoryKey)]
	return entry, ok
}

// EffectiveCount counts signatories approved through either channel.
func (l *Ledger) EffectiveCount() int {
	count := 0
	for _, entry := range l.entries {
		if entry.Effective() {
			count++
		}
	}
	return count
}

// Approvals materializes the ledger as persistable rows, ordered by key so
// output is deterministic.
func (l *Ledger) Approvals(transactionId uint64) []model.Approval {
	keys := make([]string, 0, len(l.entries))
	for key := range l.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	rows := make([]model.Approval, 0, len(keys))
	for _, key := range keys {
		entry := l.entries[key]
		rows = append(rows, model.Approval{
			TransactionId:         transactionId,
			SignatoryKey:          key,
			ConfirmedOnChain:      entry.ConfirmedOnChain,
			ConfirmedViaMessaging: entry.ConfirmedViaMessaging,
			FirstSeenAt:           entry.FirstSeenAt,
		})
	}
	return rows
}

func normalizeSignatoryKey(key string) string {
	trimmed := strings.TrimPrefix(strings.TrimSpace(key), "0x")
	return "0x" + strings.ToLower(trimmed)
}
