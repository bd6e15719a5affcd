// Package sqlite implements the storage contract on an embedded SQLite
// database via gorm. One database file serves every account; all
// queries are scoped by username.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/repost-agent/internal/models"
	"github.com/repost-agent/internal/storage"
)

// Repository implements storage.Store using SQLite.
type Repository struct {
	db *gorm.DB
}

// New opens (creating if needed) the database at dsn.
func New(dsn string) (*Repository, error) {
	dir := filepath.Dir(dsn)
	if dir != "." && dir != "" && dsn != ":memory:" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Repository{db: db}, nil
}

// Migrate creates or updates the schema.
func (r *Repository) Migrate() error {
	return r.db.AutoMigrate(
		&models.AccountSettings{},
		&models.ContentItem{},
		&models.QueuedContent{},
		&models.PublishedContent{},
		&models.RejectedContent{},
		&models.FailedContent{},
		&models.DuplicateContent{},
		&models.HashedVideo{},
	)
}

// Close closes the underlying connection.
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Account returns the store scoped to one account.
func (r *Repository) Account(username string) storage.AccountStore {
	return &accountStore{db: r.db, username: username}
}

type accountStore struct {
	db       *gorm.DB
	username string
}

func (a *accountStore) Username() string { return a.username }

func (a *accountStore) WithTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	return a.db.WithContext(ctx).Transaction(func(g *gorm.DB) error {
		return fn(&accountTx{db: g, username: a.username})
	})
}

type accountTx struct {
	db       *gorm.DB
	username string
}

func wrapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storage.ErrNotFound
	}
	return err
}

func (t *accountTx) scoped() *gorm.DB {
	return t.db.Where("username = ?", t.username)
}

func (t *accountTx) Settings() (*models.AccountSettings, error) {
	var settings models.AccountSettings
	if err := t.scoped().First(&settings).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &settings, nil
}

func (t *accountTx) SaveSettings(settings *models.AccountSettings) error {
	settings.Username = t.username
	return t.db.Save(settings).Error
}

func (t *accountTx) ContentByShortcode(shortcode string) (*models.ContentItem, error) {
	var item models.ContentItem
	err := t.scoped().Where("original_shortcode = ?", shortcode).First(&item).Error
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &item, nil
}

func (t *accountTx) ContentByMessageID(messageID int64) (*models.ContentItem, error) {
	var item models.ContentItem
	err := t.scoped().Where("message_id = ?", messageID).First(&item).Error
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &item, nil
}

func (t *accountTx) ListContent() ([]*models.ContentItem, error) {
	var items []*models.ContentItem
	if err := t.scoped().Order("added_at").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (t *accountTx) SaveContent(item *models.ContentItem) error {
	item.Username = t.username
	return t.db.Save(item).Error
}

func (t *accountTx) DeleteContent(shortcode string) error {
	return t.scoped().Where("original_shortcode = ?", shortcode).
		Delete(&models.ContentItem{}).Error
}

func (t *accountTx) NextMessageID() (int64, error) {
	var max *int64
	err := t.db.Model(&models.ContentItem{}).
		Where("username = ?", t.username).
		Select("MAX(message_id)").Scan(&max).Error
	if err != nil {
		return 0, err
	}
	if max != nil && *max > 0 {
		return *max + 1000, nil
	}
	// No rendered items yet: seed from the account-local wall clock so
	// placeholder ids stay unique enough until the UI assigns real ones.
	settings, err := t.Settings()
	if err != nil {
		return 0, err
	}
	now := settings.NowIn(nowFunc())
	return int64(now.Hour()*3600 + now.Minute()*60 + now.Second()), nil
}

func (t *accountTx) ContentQueue() ([]*models.QueuedContent, error) {
	var entries []*models.QueuedContent
	if err := t.scoped().Order("will_post_at").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (t *accountTx) QueuedByShortcode(shortcode string) (*models.QueuedContent, error) {
	var entry models.QueuedContent
	err := t.scoped().Where("original_shortcode = ?", shortcode).First(&entry).Error
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &entry, nil
}

func (t *accountTx) SaveQueued(entry *models.QueuedContent) error {
	entry.Username = t.username
	return t.db.Save(entry).Error
}

func (t *accountTx) DeleteQueued(shortcode string) error {
	return t.scoped().Where("original_shortcode = ?", shortcode).
		Delete(&models.QueuedContent{}).Error
}

func (t *accountTx) ListPublished() ([]*models.PublishedContent, error) {
	var entries []*models.PublishedContent
	if err := t.scoped().Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (t *accountTx) PublishedByShortcode(shortcode string) (*models.PublishedContent, error) {
	var entry models.PublishedContent
	err := t.scoped().Where("original_shortcode = ?", shortcode).First(&entry).Error
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &entry, nil
}

func (t *accountTx) SavePublished(entry *models.PublishedContent) error {
	entry.Username = t.username
	return t.db.Save(entry).Error
}

func (t *accountTx) ListRejected() ([]*models.RejectedContent, error) {
	var entries []*models.RejectedContent
	if err := t.scoped().Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (t *accountTx) RejectedByShortcode(shortcode string) (*models.RejectedContent, error) {
	var entry models.RejectedContent
	err := t.scoped().Where("original_shortcode = ?", shortcode).First(&entry).Error
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &entry, nil
}

func (t *accountTx) SaveRejected(entry *models.RejectedContent) error {
	entry.Username = t.username
	return t.db.Save(entry).Error
}

func (t *accountTx) DeleteRejected(shortcode string) error {
	return t.scoped().Where("original_shortcode = ?", shortcode).
		Delete(&models.RejectedContent{}).Error
}

func (t *accountTx) ListFailed() ([]*models.FailedContent, error) {
	var entries []*models.FailedContent
	if err := t.scoped().Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (t *accountTx) FailedByShortcode(shortcode string) (*models.FailedContent, error) {
	var entry models.FailedContent
	err := t.scoped().Where("original_shortcode = ?", shortcode).First(&entry).Error
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &entry, nil
}

func (t *accountTx) SaveFailed(entry *models.FailedContent) error {
	entry.Username = t.username
	return t.db.Save(entry).Error
}

func (t *accountTx) SaveDuplicate(entry *models.DuplicateContent) error {
	entry.Username = t.username
	return t.db.Save(entry).Error
}

func (t *accountTx) ListHashedVideos() ([]*models.HashedVideo, error) {
	var videos []*models.HashedVideo
	if err := t.scoped().Find(&videos).Error; err != nil {
		return nil, err
	}
	return videos, nil
}

func (t *accountTx) SaveHashedVideo(video *models.HashedVideo) error {
	video.Username = t.username
	return t.db.Save(video).Error
}

func (t *accountTx) ExistsAnywhere(shortcode string) (bool, error) {
	tables := []interface{}{
		&models.ContentItem{},
		&models.QueuedContent{},
		&models.PublishedContent{},
		&models.RejectedContent{},
		&models.FailedContent{},
		&models.DuplicateContent{},
	}
	for _, table := range tables {
		var count int64
		err := t.db.Model(table).
			Where("username = ? AND original_shortcode = ?", t.username, shortcode).
			Count(&count).Error
		if err != nil {
			return false, err
		}
		if count > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (t *accountTx) ExistsInQueue(shortcode string) (bool, error) {
	var count int64
	err := t.db.Model(&models.QueuedContent{}).
		Where("username = ? AND original_shortcode = ?", t.username, shortcode).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
