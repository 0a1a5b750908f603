package cli

import (
	"bytes"
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
)

type fakeBalances struct {
	drifts []ledger.BalanceDrift
}

func (f *fakeBalances) CheckConsistency(context.Context) ([]ledger.BalanceDrift, error) {
	return f.drifts, nil
}

type fakeLayers struct {
	drifts []inventory.LayerDrift
}

func (f *fakeLayers) ReconcileLayers(context.Context, decimal.Decimal) ([]inventory.LayerDrift, error) {
	return f.drifts, nil
}

type fakeVoider struct {
	got ledger.VoidInput
}

func (f *fakeVoider) Void(_ context.Context, input ledger.VoidInput) (ledger.JournalEntry, error) {
	f.got = input
	return ledger.JournalEntry{ID: input.EntryID, Status: ledger.EntryStatusVoid}, nil
}

func TestCheckReportsDrift(t *testing.T) {
	cli := NewLedgerCLI(
		&fakeBalances{drifts: []ledger.BalanceDrift{{AccountID: 2, Code: "4000", Stored: decimal.NewFromInt(90), Derived: decimal.NewFromInt(100)}}},
		&fakeLayers{drifts: []inventory.LayerDrift{{Key: inventory.ItemKey{ProductID: 7}, LevelQuantity: decimal.NewFromInt(5), LayerQuantity: decimal.NewFromInt(4)}}},
		nil,
	)
	var out bytes.Buffer
	total, err := cli.Check(context.Background(), &out, decimal.Zero)
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Contains(t, out.String(), "account 4000")
	require.Contains(t, out.String(), "product 7")
}

func TestCheckClean(t *testing.T) {
	cli := NewLedgerCLI(&fakeBalances{}, &fakeLayers{}, nil)
	var out bytes.Buffer
	total, err := cli.Check(context.Background(), &out, decimal.Zero)
	require.NoError(t, err)
	require.Zero(t, total)
	require.Contains(t, out.String(), "clean")
}

func TestVoidRequiresReason(t *testing.T) {
	voider := &fakeVoider{}
	cli := NewLedgerCLI(nil, nil, voider)

	_, err := cli.Void(context.Background(), 5, "", 9)
	require.Error(t, err)

	entry, err := cli.Void(context.Background(), 5, "keyed twice", 9)
	require.NoError(t, err)
	require.Equal(t, ledger.EntryStatusVoid, entry.Status)
	require.Equal(t, int64(5), voider.got.EntryID)
	require.Equal(t, "keyed twice", voider.got.Reason)
}
