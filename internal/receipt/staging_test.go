package receipt

import (
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"go.etcd.io/bbolt"
)

var _ = Describe("BoltStaging", func() {
	var (
		tmpDir string
		dbPath string
		store  *BoltStaging
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		dbPath = filepath.Join(tmpDir, "staging.db")
		var err error
		store, err = NewBoltStaging(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if store != nil {
			store.Close()
		}
	})

	newDraft := func(id string) *Draft {
		date, err := ParseDate("2024-01-15")
		Expect(err).NotTo(HaveOccurred())
		return &Draft{
			ID:           id,
			VendorName:   strPtr("Corner Pharmacy"),
			PurchaseDate: &date,
			TotalAmount:  decPtr("25.99"),
			Items:        []Item{{Description: "Thermometer", Amount: decimal.RequireFromString("25.99")}},
			SourceFile:   "scan.jpg",
			CreatedAt:    time.Date(2024, 1, 16, 8, 0, 0, 0, time.UTC),
		}
	}

	Describe("Put and Get", func() {
		When("the draft exists", func() {
			BeforeEach(func() {
				Expect(store.Put(newDraft("test-id"))).To(Succeed())
			})

			It("should round-trip every field", func() {
				draft, found, err := store.Get("test-id")
				Expect(err).NotTo(HaveOccurred())
				Expect(found).To(BeTrue())
				Expect(*draft.VendorName).To(Equal("Corner Pharmacy"))
				Expect(draft.PurchaseDate.String()).To(Equal("2024-01-15"))
				Expect(draft.TotalAmount.Equal(decimal.RequireFromString("25.99"))).To(BeTrue())
				Expect(draft.Items).To(HaveLen(1))
				Expect(draft.Items[0].Amount.Equal(decimal.RequireFromString("25.99"))).To(BeTrue())
				Expect(draft.SourceFile).To(Equal("scan.jpg"))
				Expect(draft.CreatedAt.Equal(time.Date(2024, 1, 16, 8, 0, 0, 0, time.UTC))).To(BeTrue())
			})

			It("should store it under the namespaced key", func() {
				Expect(store.db.View(func(tx *bbolt.Tx) error {
					Expect(tx.Bucket([]byte(stagingBucketName)).Get([]byte("receipt:unverified:test-id"))).NotTo(BeNil())
					return nil
				})).To(Succeed())
			})

			It("should overwrite on a second put", func() {
				draft := newDraft("test-id")
				draft.VendorName = strPtr("Other")
				Expect(store.Put(draft)).To(Succeed())

				got, _, err := store.Get("test-id")
				Expect(err).NotTo(HaveOccurred())
				Expect(*got.VendorName).To(Equal("Other"))
			})
		})

		When("the draft does not exist", func() {
			It("should report not found without an error", func() {
				draft, found, err := store.Get("missing")
				Expect(err).NotTo(HaveOccurred())
				Expect(found).To(BeFalse())
				Expect(draft).To(BeNil())
			})
		})

		When("the draft has missing values", func() {
			It("should keep them absent", func() {
				Expect(store.Put(&Draft{ID: "sparse"})).To(Succeed())
				draft, found, err := store.Get("sparse")
				Expect(err).NotTo(HaveOccurred())
				Expect(found).To(BeTrue())
				Expect(draft.VendorName).To(BeNil())
				Expect(draft.PurchaseDate).To(BeNil())
				Expect(draft.TotalAmount).To(BeNil())
			})
		})

		When("the draft has no id", func() {
			It("should return an error", func() {
				Expect(store.Put(&Draft{})).NotTo(Succeed())
			})
		})
	})

	Describe("ListPending", func() {
		When("drafts exist", func() {
			BeforeEach(func() {
				Expect(store.Put(newDraft("id1"))).To(Succeed())
				Expect(store.Put(newDraft("id2"))).To(Succeed())
				Expect(store.db.Update(func(tx *bbolt.Tx) error {
					return tx.Bucket([]byte(stagingBucketName)).Put([]byte("other:key"), []byte("not a draft"))
				})).To(Succeed())
			})

			It("should return only staged drafts", func() {
				drafts, err := store.ListPending()
				Expect(err).NotTo(HaveOccurred())
				Expect(drafts).To(HaveLen(2))
				ids := []string{drafts[0].ID, drafts[1].ID}
				Expect(ids).To(ConsistOf("id1", "id2"))
			})
		})

		When("staging is empty", func() {
			It("should return an empty list", func() {
				drafts, err := store.ListPending()
				Expect(err).NotTo(HaveOccurred())
				Expect(drafts).NotTo(BeNil())
				Expect(drafts).To(BeEmpty())
			})
		})
	})

	Describe("Delete", func() {
		BeforeEach(func() {
			Expect(store.Put(newDraft("test-id"))).To(Succeed())
		})

		It("should remove the draft", func() {
			Expect(store.Delete("test-id")).To(Succeed())
			_, found, err := store.Get("test-id")
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeFalse())
		})

		It("should be a no-op for an absent id", func() {
			Expect(store.Delete("missing")).To(Succeed())
			drafts, err := store.ListPending()
			Expect(err).NotTo(HaveOccurred())
			Expect(drafts).To(HaveLen(1))
		})
	})

	Describe("reopening", func() {
		It("should keep drafts across restarts", func() {
			Expect(store.Put(newDraft("durable"))).To(Succeed())
			Expect(store.Close()).To(Succeed())

			var err error
			store, err = NewBoltStaging(dbPath)
			Expect(err).NotTo(HaveOccurred())
			_, found, err := store.Get("durable")
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeTrue())
		})
	})
})
