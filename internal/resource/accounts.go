package resource

import (
	"context"

	"daybook/internal/domain"
	"daybook/internal/engine"
	"daybook/internal/store"
)

const (
	balanceTypeLiability = "liability"
	eventTypeTransaction = "transaction"
)

// Accounts are unscoped. Saving coerces reference and amount fields, removal
// cascades to the account's events, and list reads enrich each account with
// transaction totals and a computed balance.
func Accounts(s store.Store) Def {
	return Def{
		Name:      domain.Accounts,
		Deletable: true,
		Definition: engine.Definition{
			Collection: domain.Accounts,
			Hooks: engine.Hooks{
				PreSave: func(_ context.Context, _ domain.Principal, body store.Document) error {
					coerceNumber(body, "amount")
					return nil
				},
				PreRemove: func(ctx context.Context, id string) error {
					_, err := s.Collection(domain.Events).Remove(ctx, store.Where("accountRid", id))
					return err
				},
				PostFetch: accountTotals(s),
			},
		},
	}
}

// accountTotals aggregates the transaction events per account and derives
// running totals without mutating the stored documents.
func accountTotals(s store.Store) func(ctx context.Context, docs []store.Document) ([]store.Document, error) {
	return func(ctx context.Context, accounts []store.Document) ([]store.Document, error) {
		transactions, err := s.Collection(domain.Events).Find(ctx, store.Where("eventType", eventTypeTransaction))
		if err != nil {
			return nil, err
		}
		type totals struct {
			count     int
			principal float64
			interest  float64
		}
		byAccount := map[string]totals{}
		for _, tx := range transactions {
			t := byAccount[tx.String("accountRid")]
			t.count++
			t.principal += tx.Number("principalAmount")
			t.interest += tx.Number("interestAmount")
			byAccount[tx.String("accountRid")] = t
		}
		out := make([]store.Document, 0, len(accounts))
		for _, acct := range accounts {
			acct = acct.Clone()
			t := byAccount[acct.ID()]
			acct["numberOfTransactions"] = t.count
			acct["principalPaid"] = t.principal
			acct["interestPaid"] = t.interest
			if acct.String("balanceType") == balanceTypeLiability {
				acct["balance"] = acct.Number("amount") - t.principal
			} else {
				acct["balance"] = acct.Number("amount") + t.principal
			}
			out = append(out, acct)
		}
		return out, nil
	}
}
