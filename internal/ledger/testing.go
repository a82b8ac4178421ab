package ledger

// CorruptBalance overwrites the stored aggregate of an in-memory ledger
// without touching the activity log. Test helper for reconciliation paths.
func CorruptBalance(l Ledger, accountID, establishmentID string, current int64) {
	if mem, ok := l.(*InMemory); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		key := pairKey{accountID, establishmentID}
		b := mem.balances[key]
		b.AccountID, b.EstablishmentID = accountID, establishmentID
		b.CurrentBalance = current
		mem.balances[key] = b
	}
}
