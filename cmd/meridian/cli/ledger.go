package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
)

// BalanceChecker reports stored-versus-derived account drift.
type BalanceChecker interface {
	CheckConsistency(ctx context.Context) ([]ledger.BalanceDrift, error)
}

// LayerReconciler reports stock levels whose open layers disagree.
type LayerReconciler interface {
	ReconcileLayers(ctx context.Context, tolerance decimal.Decimal) ([]inventory.LayerDrift, error)
}

// Voider voids a posted journal entry.
type Voider interface {
	Void(ctx context.Context, input ledger.VoidInput) (ledger.JournalEntry, error)
}

// LedgerCLI bundles operator commands against the ledger.
type LedgerCLI struct {
	balances BalanceChecker
	layers   LayerReconciler
	voider   Voider
}

// NewLedgerCLI constructs LedgerCLI.
func NewLedgerCLI(balances BalanceChecker, layers LayerReconciler, voider Voider) *LedgerCLI {
	return &LedgerCLI{balances: balances, layers: layers, voider: voider}
}

// Check prints every account and layer drift to out and reports how many
// were found.
func (c *LedgerCLI) Check(ctx context.Context, out io.Writer, tolerance decimal.Decimal) (int, error) {
	if c == nil || c.balances == nil || c.layers == nil {
		return 0, errors.New("ledger cli: not configured")
	}
	drifts, err := c.balances.CheckConsistency(ctx)
	if err != nil {
		return 0, err
	}
	for _, drift := range drifts {
		fmt.Fprintf(out, "account %s (%d): stored=%s derived=%s\n", drift.Code, drift.AccountID, drift.Stored, drift.Derived)
	}
	layerDrifts, err := c.layers.ReconcileLayers(ctx, tolerance)
	if err != nil {
		return 0, err
	}
	for _, drift := range layerDrifts {
		fmt.Fprintf(out, "product %d: level=%s layers=%s\n", drift.Key.ProductID, drift.LevelQuantity, drift.LayerQuantity)
	}
	total := len(drifts) + len(layerDrifts)
	if total == 0 {
		fmt.Fprintln(out, "clean")
	}
	return total, nil
}

// Void voids one posted entry by id.
func (c *LedgerCLI) Void(ctx context.Context, entryID int64, reason string, actorID int64) (ledger.JournalEntry, error) {
	if c == nil || c.voider == nil {
		return ledger.JournalEntry{}, errors.New("ledger cli: not configured")
	}
	if reason == "" {
		return ledger.JournalEntry{}, errors.New("ledger cli: void reason required")
	}
	return c.voider.Void(ctx, ledger.VoidInput{EntryID: entryID, Reason: reason, ActorID: actorID})
}
