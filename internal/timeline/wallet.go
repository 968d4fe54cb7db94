package timeline

import "fmt"

// GetTransactionsByWallet returns transactions touching one wallet,
// newest first. Double-entry duplicates that slipped past the write-time
// merge are collapsed again at read time: rows sharing a second-truncated
// timestamp, amount and wallet pair yield one result.
func (s *Store) GetTransactionsByWallet(walletID, profileID string, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT `+itemColumns+` FROM timeline_items
		WHERE profile_id = ? AND item_type = ?
			AND (from_wallet_id = ? OR to_wallet_id = ?)
		ORDER BY created_at DESC, rowid DESC`,
		profileID, TypeTransaction, walletID, walletID)
	if err != nil {
		return nil, err
	}
	items, err := collectItems(rows)
	if err != nil {
		return nil, err
	}
	return dedupTransactions(items, limit), nil
}

// GetAllTransactions returns every transaction for a profile, newest
// first, with the same read-time dedup.
func (s *Store) GetAllTransactions(profileID string, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT `+itemColumns+` FROM timeline_items
		WHERE profile_id = ? AND item_type = ?
		ORDER BY created_at DESC, rowid DESC`,
		profileID, TypeTransaction)
	if err != nil {
		return nil, err
	}
	items, err := collectItems(rows)
	if err != nil {
		return nil, err
	}
	return dedupTransactions(items, limit), nil
}

// dedupTransactions groups by (interaction, second-truncated timestamp,
// amount, unordered wallet pair) and keeps one row per group, preferring
// the server-confirmed one.
func dedupTransactions(items []Item, limit int) []Item {
	seen := make(map[string]int, len(items))
	var out []Item
	for _, it := range items {
		key := dedupKey(&it)
		if idx, ok := seen[key]; ok {
			if out[idx].ServerID == "" && it.ServerID != "" {
				out[idx] = it
			}
			continue
		}
		seen[key] = len(out)
		out = append(out, it)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func dedupKey(it *Item) string {
	a, b := it.FromWalletID, it.ToWalletID
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("%s|%d|%d|%s|%s", it.InteractionID, it.CreatedAt/1000, it.Amount, a, b)
}
