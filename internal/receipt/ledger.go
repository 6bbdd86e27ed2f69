package receipt

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Ledger defines the durable store of approved receipts
type Ledger interface {
	// Insert promotes a receipt. Returns ErrDuplicateReceipt when receiptID is already present.
	Insert(receiptID string, vendorName *string, purchaseDate *Date, totalAmount *decimal.Decimal, items []Item) (*VerifiedReceipt, error)

	// FindByReceiptID looks up a promoted receipt by its draft ID
	FindByReceiptID(receiptID string) (*VerifiedReceipt, bool, error)

	// ListAll returns all approved receipts, most recently approved first
	ListAll() ([]*VerifiedReceipt, error)
}

// slogWriter routes gorm's logger output through slog
type slogWriter struct{}

func (slogWriter) Printf(format string, args ...interface{}) {
	slog.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "gorm")
}

// OpenDatabase opens the relational database backing the ledger and the category registry.
// driverName is one of sqlite, mysql or postgres.
func OpenDatabase(driverName, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driverName {
	case "sqlite", "":
		dialector = sqlite.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driverName)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger: logger.New(slogWriter{}, logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", driverName, err)
	}
	return db, nil
}

// Migrate creates or updates the ledger and category tables
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&VerifiedReceipt{}, &Category{}); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	return nil
}

// GormLedger implements Ledger on a relational database
type GormLedger struct {
	db         *gorm.DB
	timeSource TimeSource

	mu           sync.Mutex
	lastApproved time.Time
}

// NewGormLedger creates a ledger using the wall clock for approval timestamps
func NewGormLedger(db *gorm.DB) *GormLedger {
	return NewGormLedgerWithClock(db, &defaultTimeSource{})
}

// NewGormLedgerWithClock creates a ledger with a custom time source for testing
func NewGormLedgerWithClock(db *gorm.DB, timeSrc TimeSource) *GormLedger {
	return &GormLedger{db: db, timeSource: timeSrc}
}

// approvalTime never moves backwards within one process, even if the wall clock does
func (l *GormLedger) approvalTime() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.timeSource.Now().UTC()
	if now.Before(l.lastApproved) {
		now = l.lastApproved
	}
	l.lastApproved = now
	return now
}

// Insert writes the receipt in a single transaction
func (l *GormLedger) Insert(receiptID string, vendorName *string, purchaseDate *Date, totalAmount *decimal.Decimal, items []Item) (*VerifiedReceipt, error) {
	if items == nil {
		items = []Item{}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("marshaling items: %w", err)
	}

	row := &VerifiedReceipt{
		ReceiptID:    receiptID,
		VendorName:   vendorName,
		PurchaseDate: purchaseDate,
		ItemsJSON:    itemsJSON,
		ApprovedAt:   l.approvalTime(),
	}
	if totalAmount != nil {
		row.TotalAmount = decimal.NewNullDecimal(*totalAmount)
	}

	err = l.db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(row).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateReceipt
		}
		// Not every driver translates constraint violations, so ask the ledger itself
		if _, found, findErr := l.FindByReceiptID(receiptID); findErr == nil && found {
			return nil, ErrDuplicateReceipt
		}
		return nil, fmt.Errorf("inserting receipt %s: %w", receiptID, err)
	}
	return row, nil
}

// FindByReceiptID retrieves a ledger row by the original draft ID
func (l *GormLedger) FindByReceiptID(receiptID string) (*VerifiedReceipt, bool, error) {
	var row VerifiedReceipt
	err := l.db.Where("receipt_id = ?", receiptID).Limit(1).Find(&row).Error
	if err != nil {
		return nil, false, fmt.Errorf("finding receipt %s: %w", receiptID, err)
	}
	if row.ID == 0 {
		return nil, false, nil
	}
	return &row, true, nil
}

// ListAll returns every ledger row, newest approval first
func (l *GormLedger) ListAll() ([]*VerifiedReceipt, error) {
	rows := make([]*VerifiedReceipt, 0)
	if err := l.db.Order("approved_at DESC").Order("id DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	return rows, nil
}

// Value implements driver.Valuer so a Date can be stored in a DATE column
func (d Date) Value() (driver.Value, error) {
	return d.Time, nil
}

// Scan implements sql.Scanner
func (d *Date) Scan(src interface{}) error {
	switch v := src.(type) {
	case time.Time:
		d.Time = time.Date(v.Year(), v.Month(), v.Day(), 0, 0, 0, 0, time.UTC)
		return nil
	case string:
		return d.scanString(v)
	case []byte:
		return d.scanString(string(v))
	default:
		return fmt.Errorf("cannot scan %T into Date", src)
	}
}

func (d *Date) scanString(s string) error {
	if len(s) >= len(dateLayout) {
		if t, err := time.Parse(dateLayout, s[:len(dateLayout)]); err == nil {
			d.Time = t
			return nil
		}
	}
	return fmt.Errorf("cannot parse %q as date", s)
}
