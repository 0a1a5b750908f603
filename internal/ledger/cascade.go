package ledger

import (
	"context"
)

// unwindDependents walks back the side effects a voided entry drove on
// downstream records. It reconstructs dependents purely from foreign keys on
// durable rows, because a void can arrive long after the original
// transaction and no orchestrator state survives that long:
//
//   - due collections linked to the entry hand their amount back to the
//     customer's due balance and flip to voided;
//   - a voided sale entry that carried on-account payment lines takes the
//     debt those lines created back out of the customer's due balance.
func unwindDependents(ctx context.Context, tx TxRepository, entry JournalEntry) error {
	collections, err := tx.ListDueCollectionsByEntry(ctx, entry.ID)
	if err != nil {
		return err
	}
	for _, collection := range collections {
		if err := tx.AddCustomerDueBalance(ctx, collection.CustomerID, collection.Amount); err != nil {
			return err
		}
		if err := tx.MarkDueCollectionVoided(ctx, collection.ID); err != nil {
			return err
		}
	}

	// Only the tender-carrying sale entry unwinds on-account debt. The
	// companion COGS entry shares the sale id but carries no payment lines.
	if entry.Source.Type != SourceSale {
		return nil
	}
	onAccount, err := tx.SumOnAccountPayments(ctx, entry.Source.ID)
	if err != nil {
		return err
	}
	if onAccount.IsZero() {
		return nil
	}
	customerID, found, err := tx.GetSaleCustomer(ctx, entry.Source.ID)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	return tx.AddCustomerDueBalance(ctx, customerID, onAccount.Neg())
}
