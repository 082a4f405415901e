// Package eventstore archives subscription events in a SQL database so payment
// history survives restarts and can be queried per agreement or payee.
package eventstore

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"lukechampine.com/blake3"

	"tally/core/events"
	"tally/core/types"
	"tally/native/subscription"
)

// ErrDSNRequired is returned when no connection string is supplied.
var ErrDSNRequired = errors.New("eventstore: dsn required")

const writeTimeout = 5 * time.Second

// Entry is one archived event.
type Entry struct {
	Seq        uint64    `gorm:"primaryKey;autoIncrement" json:"seq"`
	LogSeq     uint64    `gorm:"index" json:"logSeq,omitempty"`
	Digest     string    `gorm:"size:64;uniqueIndex" json:"digest"`
	Type       string    `gorm:"size:64;index" json:"type"`
	Agreement  string    `gorm:"size:64;index" json:"agreement,omitempty"`
	Payer      string    `gorm:"size:64;index" json:"payer,omitempty"`
	Payee      string    `gorm:"size:64;index" json:"payee,omitempty"`
	Amount     string    `gorm:"size:32" json:"amount,omitempty"`
	Attributes string    `gorm:"type:text" json:"-"`
	EmittedAt  time.Time `gorm:"index" json:"emittedAt"`
	CreatedAt  time.Time `json:"createdAt"`
}

// TableName pins the table name across drivers.
func (Entry) TableName() string { return "subscription_events" }

// Attrs decodes the archived attribute map.
func (e Entry) Attrs() (map[string]string, error) {
	out := make(map[string]string)
	if e.Attributes == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(e.Attributes), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Store persists events through gorm.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Dialector picks the gorm driver for dsn. postgres:// and postgresql://
// URLs and key=value strings containing host= select Postgres; anything else
// is treated as a sqlite path or URI.
func Dialector(dsn string) (gorm.Dialector, error) {
	trimmed := strings.TrimSpace(dsn)
	switch {
	case trimmed == "":
		return nil, ErrDSNRequired
	case strings.HasPrefix(trimmed, "postgres://"), strings.HasPrefix(trimmed, "postgresql://"),
		strings.Contains(trimmed, "host="):
		return postgres.Open(trimmed), nil
	default:
		return sqlite.Open(strings.TrimPrefix(trimmed, "sqlite://")), nil
	}
}

// Open connects to dsn and migrates the schema.
func Open(dsn string) (*Store, error) {
	dialector, err := Dialector(dsn)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("eventstore: open: %w", err)
	}
	return New(db)
}

// New wraps an existing gorm handle and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("eventstore: migrate: %w", err)
	}
	return &Store{db: db, logger: slog.Default()}, nil
}

// SetLogger overrides the logger used for write failures.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AppendRecord archives a record taken from an events.Log. Replaying the same
// record is a no-op; distinct records never collapse, even when their
// attributes and second match.
func (s *Store) AppendRecord(ctx context.Context, rec events.Record) (bool, error) {
	if rec.Event == nil {
		return false, nil
	}
	return s.insert(ctx, rec.Event, time.Unix(rec.Timestamp, 0), rec.Sequence)
}

// Append archives evt emitted at at. It reports false when an identical
// event with the same timestamp was already stored.
func (s *Store) Append(ctx context.Context, evt *types.Event, at time.Time) (bool, error) {
	return s.insert(ctx, evt, at, 0)
}

func (s *Store) insert(ctx context.Context, evt *types.Event, at time.Time, seq uint64) (bool, error) {
	attrs, err := json.Marshal(evt.Attributes)
	if err != nil {
		return false, err
	}
	entry := Entry{
		LogSeq:     seq,
		Digest:     Digest(evt, at, seq),
		Type:       evt.Type,
		Agreement:  evt.Attributes["agreement"],
		Payer:      evt.Attributes["payer"],
		Payee:      evt.Attributes["payee"],
		Amount:     evt.Attributes["amount"],
		Attributes: string(attrs),
		EmittedAt:  at.UTC().Truncate(time.Second),
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "digest"}}, DoNothing: true}).
		Create(&entry)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Digest is the dedupe key of evt emitted at at: BLAKE3 over the type, the
// sorted attributes, the second the event was emitted in and, when non-zero,
// its log sequence.
func Digest(evt *types.Event, at time.Time, seq uint64) string {
	h := blake3.New(32, nil)
	write := func(s string) {
		_, _ = fmt.Fprintf(h, "%d:%s", len(s), s)
	}
	write(evt.Type)
	keys := make([]string, 0, len(evt.Attributes))
	for k := range evt.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		write(k)
		write(evt.Attributes[k])
	}
	write(fmt.Sprintf("%d", at.Unix()))
	if seq > 0 {
		write(fmt.Sprintf("seq=%d", seq))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Query filters archived events. Zero fields are ignored.
type Query struct {
	Type      string
	Agreement string
	Payer     string
	Payee     string
	Since     time.Time
	AfterSeq  uint64
	Limit     int
}

// Find returns entries matching q in emission order.
func (s *Store) Find(ctx context.Context, q Query) ([]Entry, error) {
	tx := s.db.WithContext(ctx).Model(&Entry{})
	if q.Type != "" {
		tx = tx.Where("type = ?", q.Type)
	}
	if q.Agreement != "" {
		tx = tx.Where("agreement = ?", q.Agreement)
	}
	if q.Payer != "" {
		tx = tx.Where("payer = ?", q.Payer)
	}
	if q.Payee != "" {
		tx = tx.Where("payee = ?", q.Payee)
	}
	if !q.Since.IsZero() {
		tx = tx.Where("emitted_at >= ?", q.Since.UTC())
	}
	if q.AfterSeq > 0 {
		tx = tx.Where("seq > ?", q.AfterSeq)
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	var out []Entry
	if err := tx.Order("seq asc").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ByAgreement returns the history of one agreement.
func (s *Store) ByAgreement(ctx context.Context, agreement string, limit int) ([]Entry, error) {
	return s.Find(ctx, Query{Agreement: agreement, Limit: limit})
}

// Payments returns executed payments credited to payee.
func (s *Store) Payments(ctx context.Context, payee string, since time.Time, limit int) ([]Entry, error) {
	return s.Find(ctx, Query{Type: subscription.EventTypePaymentExecuted, Payee: payee, Since: since, Limit: limit})
}

// Count returns the number of archived entries.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Entry{}).Count(&n).Error
	return n, err
}
