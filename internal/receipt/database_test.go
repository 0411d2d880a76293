package receipt

import (
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/receipt-router/internal/routing"
	"github.com/zombor/receipt-router/internal/scanning"
)

var _ = Describe("BoltDB", func() {
	var (
		tmpDir string
		dbPath string
		db     *BoltDB
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		dbPath = filepath.Join(tmpDir, "test.db")
		var err error
		db, err = NewBoltDB(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	Describe("SaveExtraction", func() {
		var (
			extraction *Extraction
			err        error
		)

		BeforeEach(func() {
			total := scanning.Money(2599)
			extraction = &Extraction{
				ID:          "test-id",
				Filename:    "test-id_test.jpg",
				ContentType: "image/jpeg",
				Fields: scanning.Fields{
					IssuerName:   "CVS Pharmacy",
					Date:         "2024-01-15",
					TotalAmount:  &total,
					TaxBreakdown: []scanning.TaxLine{},
				},
				Confidence:      0.91,
				FieldConfidence: scanning.FieldConfidence{scanning.FieldDate: 0.9},
				Tier:            "vision",
				Reason:          "accepted at vision after: ocr unavailable, skipped",
				Cost:            0.002,
				Accepted:        true,
				Attempts: []routing.Attempt{
					{Tier: "ocr", Outcome: routing.OutcomeSkipped, Reason: "ocr unavailable, skipped"},
					{Tier: "vision", Outcome: routing.OutcomeAccepted, Reason: "accepted", Cost: 0.002},
				},
				CreatedAt: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
			}
		})

		JustBeforeEach(func() {
			err = db.SaveExtraction(extraction)
		})

		When("saving succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should round trip the routing decision", func() {
				saved, getErr := db.GetExtraction("test-id")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(saved.Tier).To(Equal("vision"))
				Expect(saved.Attempts).To(Equal(extraction.Attempts))
				Expect(*saved.Fields.TotalAmount).To(Equal(scanning.Money(2599)))
				Expect(saved.CreatedAt.Equal(extraction.CreatedAt)).To(BeTrue())
			})
		})

		When("the ID already exists", func() {
			BeforeEach(func() {
				Expect(db.SaveExtraction(&Extraction{ID: "test-id", Tier: "ocr"})).To(Succeed())
			})

			It("should replace the record", func() {
				saved, getErr := db.GetExtraction("test-id")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(saved.Tier).To(Equal("vision"))
			})
		})
	})

	Describe("GetExtraction", func() {
		When("the extraction does not exist", func() {
			It("returns a not found error", func() {
				_, err := db.GetExtraction("nonexistent")
				Expect(err).To(MatchError(ErrNotFound))
				Expect(err).To(MatchError("extraction not found: nonexistent"))
			})
		})
	})

	Describe("ListExtractions", func() {
		var (
			extractions []*Extraction
			err         error
		)

		JustBeforeEach(func() {
			extractions, err = db.ListExtractions()
		})

		When("extractions exist", func() {
			BeforeEach(func() {
				base := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
				Expect(db.SaveExtraction(&Extraction{ID: "a", CreatedAt: base})).To(Succeed())
				Expect(db.SaveExtraction(&Extraction{ID: "b", CreatedAt: base.Add(2 * time.Hour)})).To(Succeed())
				Expect(db.SaveExtraction(&Extraction{ID: "c", CreatedAt: base.Add(time.Hour)})).To(Succeed())
			})

			It("should return them newest first", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(extractions).To(HaveLen(3))
				Expect(extractions[0].ID).To(Equal("b"))
				Expect(extractions[1].ID).To(Equal("c"))
				Expect(extractions[2].ID).To(Equal("a"))
			})
		})

		When("no extractions exist", func() {
			It("should return an empty list", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(extractions).NotTo(BeNil())
				Expect(extractions).To(BeEmpty())
			})
		})
	})

	Describe("DeleteExtraction", func() {
		BeforeEach(func() {
			Expect(db.SaveExtraction(&Extraction{ID: "test-id"})).To(Succeed())
		})

		It("should remove the extraction", func() {
			Expect(db.DeleteExtraction("test-id")).To(Succeed())
			_, err := db.GetExtraction("test-id")
			Expect(err).To(MatchError(ErrNotFound))
		})

		It("should ignore a missing ID", func() {
			Expect(db.DeleteExtraction("nonexistent")).To(Succeed())
		})
	})

	Describe("reopening", func() {
		It("should keep saved extractions", func() {
			Expect(db.SaveExtraction(&Extraction{ID: "kept"})).To(Succeed())
			Expect(db.Close()).To(Succeed())

			var err error
			db, err = NewBoltDB(dbPath)
			Expect(err).NotTo(HaveOccurred())
			_, err = db.GetExtraction("kept")
			Expect(err).NotTo(HaveOccurred())
		})
	})
})
