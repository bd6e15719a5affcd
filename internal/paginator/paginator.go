// Package paginator maintains the page numbers of content items shown
// in the moderation view. Pages are contiguous and ordered by when the
// item was added; removing items renumbers everything so no page is
// left sparse.
package paginator

import (
	"errors"

	"github.com/repost-agent/internal/models"
	"github.com/repost-agent/internal/storage"
)

// Renumber reassigns page numbers over all content items in added-at
// order, pageSize items per page starting from page 1. Items whose page
// changed are written back.
func Renumber(tx storage.Tx, pageSize int) error {
	if pageSize <= 0 {
		pageSize = 1
	}
	items, err := tx.ListContent()
	if err != nil {
		return err
	}
	for i, item := range items {
		page := i/pageSize + 1
		if item.PageNum == page {
			continue
		}
		item.PageNum = page
		if err := tx.SaveContent(item); err != nil {
			return err
		}
	}
	return nil
}

// PlaceNew assigns a page to a freshly submitted item: the last page if
// it still has room, otherwise a new one. An item that is already known
// keeps its page.
func PlaceNew(tx storage.Tx, item *models.ContentItem, pageSize int) error {
	if pageSize <= 0 {
		pageSize = 1
	}
	existing, err := tx.ContentByShortcode(item.OriginalShortcode)
	if err == nil {
		item.PageNum = existing.PageNum
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	items, err := tx.ListContent()
	if err != nil {
		return err
	}
	if len(items) == 0 {
		item.PageNum = 1
		return nil
	}

	lastPage := items[len(items)-1].PageNum
	onLast := 0
	for _, it := range items {
		if it.PageNum == lastPage {
			onLast++
		}
	}
	if onLast < pageSize {
		item.PageNum = lastPage
	} else {
		item.PageNum = lastPage + 1
	}
	return nil
}

// Page returns the items on the given page and the total page count.
// The total is at least 1 even for an empty collection.
func Page(tx storage.Tx, page, pageSize int) ([]*models.ContentItem, int, error) {
	if pageSize <= 0 {
		pageSize = 1
	}
	items, err := tx.ListContent()
	if err != nil {
		return nil, 0, err
	}

	total := (len(items) + pageSize - 1) / pageSize
	if total < 1 {
		total = 1
	}

	var out []*models.ContentItem
	for _, item := range items {
		if item.PageNum == page {
			out = append(out, item)
		}
	}
	return out, total, nil
}
