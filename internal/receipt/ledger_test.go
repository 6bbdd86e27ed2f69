package receipt

import (
	"errors"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// steppingClock returns a scripted sequence of times, repeating the last one
type steppingClock struct {
	mu    sync.Mutex
	times []time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.times[0]
	if len(c.times) > 1 {
		c.times = c.times[1:]
	}
	return t
}

func openTestDatabase() *gorm.DB {
	db, err := OpenDatabase("sqlite", filepath.Join(GinkgoT().TempDir(), "ledger.db"))
	Expect(err).NotTo(HaveOccurred())
	Expect(Migrate(db)).To(Succeed())
	DeferCleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

var _ = Describe("GormLedger", func() {
	var (
		db     *gorm.DB
		clock  *steppingClock
		ledger *GormLedger
		t0     time.Time
	)

	BeforeEach(func() {
		db = openTestDatabase()
		t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
		clock = &steppingClock{times: []time.Time{t0}}
		ledger = NewGormLedgerWithClock(db, clock)
	})

	Describe("Insert", func() {
		var (
			row *VerifiedReceipt
			err error
		)

		JustBeforeEach(func() {
			date, parseErr := ParseDate("2024-04-28")
			Expect(parseErr).NotTo(HaveOccurred())
			row, err = ledger.Insert("draft-1", strPtr("Corner Pharmacy"), &date, decPtr("19.95"), []Item{
				{Description: "Saline", Amount: decimal.RequireFromString("19.95")},
			})
		})

		It("should assign an id and approval time", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(row.ID).NotTo(BeZero())
			Expect(row.ApprovedAt.Equal(t0)).To(BeTrue())
		})

		It("should round-trip the stored values", func() {
			found, ok, findErr := ledger.FindByReceiptID("draft-1")
			Expect(findErr).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(*found.VendorName).To(Equal("Corner Pharmacy"))
			Expect(found.PurchaseDate.String()).To(Equal("2024-04-28"))
			Expect(found.TotalAmount.Valid).To(BeTrue())
			Expect(found.TotalAmount.Decimal.Equal(decimal.RequireFromString("19.95"))).To(BeTrue())
			items, itemsErr := found.Items()
			Expect(itemsErr).NotTo(HaveOccurred())
			Expect(items).To(HaveLen(1))
			Expect(items[0].Description).To(Equal("Saline"))
		})

		When("the receipt id is already in the ledger", func() {
			It("should return ErrDuplicateReceipt and keep one row", func() {
				Expect(err).NotTo(HaveOccurred())
				_, dupErr := ledger.Insert("draft-1", strPtr("Other"), nil, nil, nil)
				Expect(errors.Is(dupErr, ErrDuplicateReceipt)).To(BeTrue())

				rows, listErr := ledger.ListAll()
				Expect(listErr).NotTo(HaveOccurred())
				Expect(rows).To(HaveLen(1))
				Expect(*rows[0].VendorName).To(Equal("Corner Pharmacy"))
			})
		})
	})

	Describe("Insert with missing values", func() {
		It("should store nulls and an empty item list", func() {
			_, err := ledger.Insert("sparse", nil, nil, nil, nil)
			Expect(err).NotTo(HaveOccurred())

			found, ok, err := ledger.FindByReceiptID("sparse")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(found.VendorName).To(BeNil())
			Expect(found.PurchaseDate).To(BeNil())
			Expect(found.TotalAmount.Valid).To(BeFalse())
			items, err := found.Items()
			Expect(err).NotTo(HaveOccurred())
			Expect(items).To(BeEmpty())
		})
	})

	Describe("FindByReceiptID", func() {
		It("should report absent receipts without an error", func() {
			row, ok, err := ledger.FindByReceiptID("missing")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
			Expect(row).To(BeNil())
		})
	})

	Describe("ListAll", func() {
		It("should list the most recent approval first", func() {
			clock.times = []time.Time{t0, t0.Add(time.Minute)}
			_, err := ledger.Insert("X", strPtr("X"), nil, nil, nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = ledger.Insert("Y", strPtr("Y"), nil, nil, nil)
			Expect(err).NotTo(HaveOccurred())

			rows, err := ledger.ListAll()
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(HaveLen(2))
			Expect(rows[0].ReceiptID).To(Equal("Y"))
			Expect(rows[1].ReceiptID).To(Equal("X"))
		})

		It("should not let approval times move backwards", func() {
			clock.times = []time.Time{t0, t0.Add(-time.Hour)}
			_, err := ledger.Insert("X", nil, nil, nil, nil)
			Expect(err).NotTo(HaveOccurred())
			second, err := ledger.Insert("Y", nil, nil, nil, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.ApprovedAt.Equal(t0)).To(BeTrue())

			rows, err := ledger.ListAll()
			Expect(err).NotTo(HaveOccurred())
			Expect(rows[0].ReceiptID).To(Equal("Y"))
		})

		It("should return an empty list for an empty ledger", func() {
			rows, err := ledger.ListAll()
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).NotTo(BeNil())
			Expect(rows).To(BeEmpty())
		})
	})
})

var _ = Describe("GormCategories", func() {
	var categories *GormCategories

	BeforeEach(func() {
		categories = NewGormCategories(openTestDatabase())
	})

	It("should create and list categories by name", func() {
		_, err := categories.CreateCategory("Pharmacy", "Prescriptions and OTC")
		Expect(err).NotTo(HaveOccurred())
		_, err = categories.CreateCategory("Dental", "")
		Expect(err).NotTo(HaveOccurred())

		list, err := categories.ListCategories()
		Expect(err).NotTo(HaveOccurred())
		Expect(list).To(HaveLen(2))
		Expect(list[0].Name).To(Equal("Dental"))
		Expect(list[1].Description).To(Equal("Prescriptions and OTC"))
	})

	It("should reject a duplicate name", func() {
		_, err := categories.CreateCategory("Vision", "")
		Expect(err).NotTo(HaveOccurred())
		_, err = categories.CreateCategory(" Vision ", "again")
		Expect(errors.Is(err, ErrDuplicateCategory)).To(BeTrue())
	})

	It("should reject an empty name", func() {
		_, err := categories.CreateCategory("  ", "")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("OpenDatabase", func() {
	It("should reject an unknown driver", func() {
		_, err := OpenDatabase("oracle", "")
		Expect(err).To(MatchError(ContainSubstring("unsupported database driver")))
	})
})
