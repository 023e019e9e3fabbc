package dao

import (
	"errors"

	"gorm.io/gorm"

	"github.com/koinu-labs/kins/tables"
)

// AppendListingEvent appends one row to the marketplace ledger. Rows are
// never updated or deleted afterwards.
func (d *DB) AppendListingEvent(event *tables.ListingEvent) error {
	return d.Create(event).Error
}

// LatestListingEvent returns the newest ledger row for an asset, which is the
// asset's current state by definition. Returns gorm.ErrRecordNotFound for
// assets the ledger has never seen.
func (d *DB) LatestListingEvent(assetId string) (event tables.ListingEvent, err error) {
	err = d.Where("asset_id = ?", assetId).
		Order("timestamp DESC, id DESC").
		First(&event).Error
	return
}

// ActiveListing returns the newest ledger row for an asset only when that row
// is a live listing.
func (d *DB) ActiveListing(assetId string) (tables.ListingEvent, error) {
	event, err := d.LatestListingEvent(assetId)
	if err != nil {
		return event, err
	}
	if event.Status != tables.ListingStatusListed {
		return event, gorm.ErrRecordNotFound
	}
	return event, nil
}

// SoldEventsByCollection returns every sold row for a collection, newest
// first.
func (d *DB) SoldEventsByCollection(collection string) (events []tables.ListingEvent, err error) {
	err = d.Where("collection = ? AND status = ?", collection, tables.ListingStatusSold).
		Order("timestamp DESC, id DESC").
		Find(&events).Error
	return
}

// ListingHistory returns the full event log for an asset, oldest first.
func (d *DB) ListingHistory(assetId string) (events []tables.ListingEvent, err error) {
	err = d.Where("asset_id = ?", assetId).
		Order("timestamp ASC, id ASC").
		Find(&events).Error
	return
}

// IsRecordNotFound reports whether err means the projection has no row.
func IsRecordNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
