package tables

import (
	"time"
)

type ListingStatus string

const (
	ListingStatusUnlisted ListingStatus = "unlisted"
	ListingStatusListed   ListingStatus = "listed"
	ListingStatusSold     ListingStatus = "sold"
	ListingStatusSent     ListingStatus = "sent"
)

// ListingEvent is one row of the marketplace ledger. Rows are append-only:
// the current state of an asset is always the latest row for its id, never a
// mutated column. AssetId may be empty for sent transfers of assets the
// system has never tracked.
type ListingEvent struct {
	Id         uint64        `gorm:"column:id;primary_key;AUTO_INCREMENT;NOT NULL"`
	AssetId    string        `gorm:"column:asset_id;type:varchar(255);index:idx_asset_id;default:'';NOT NULL"`
	Collection string        `gorm:"column:collection;type:varchar(255);index:idx_collection;default:'';NOT NULL"`
	Status     ListingStatus `gorm:"column:status;type:varchar(32);index:idx_status;default:'';NOT NULL"`
	Seller     string        `gorm:"column:seller;type:varchar(255);default:'';NOT NULL"`
	Buyer      string        `gorm:"column:buyer;type:varchar(255);default:'';NOT NULL"`
	Price      uint64        `gorm:"column:price;type:bigint unsigned;default:0;NOT NULL"`
	Psbt       []byte        `gorm:"column:psbt;type:mediumblob"`
	TxId       string        `gorm:"column:tx_id;type:varchar(255);default:'';NOT NULL"`
	Timestamp  time.Time     `gorm:"column:timestamp;type:timestamp;index:idx_timestamp;default:CURRENT_TIMESTAMP;NOT NULL"`
}

func (e *ListingEvent) TableName() string {
	return "listing_events"
}
