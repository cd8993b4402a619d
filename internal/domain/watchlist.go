package domain

import "time"

// WatchItem is one instrument on a user's persisted watchlist.
type WatchItem struct {
	UserID   int64
	Symbol   string
	Exchange string
	AddedAt  time.Time
}
