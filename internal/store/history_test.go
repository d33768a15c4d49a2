package store

import (
	"errors"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("BoltDB", func() {
	var (
		db   *BoltDB
		base time.Time
	)

	BeforeEach(func() {
		var err error
		db, err = NewBoltDB(filepath.Join(GinkgoT().TempDir(), "scanbot.db"))
		Expect(err).NotTo(HaveOccurred())
		base = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	})

	AfterEach(func() {
		Expect(db.Close()).To(Succeed())
	})

	record := func(id, filename string, at time.Time) *Record {
		return &Record{ID: id, Filename: filename, Format: "PNG", SizeBytes: 10, RequestedBy: 42, CreatedAt: at}
	}

	Describe("SaveRecord and GetRecord", func() {
		It("round trips a record", func() {
			Expect(db.SaveRecord(record("1", "scan_a.png", base))).To(Succeed())
			got, err := db.GetRecord("1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Filename).To(Equal("scan_a.png"))
			Expect(got.RequestedBy).To(Equal(int64(42)))
			Expect(got.CreatedAt.Equal(base)).To(BeTrue())
		})

		It("reports missing records", func() {
			_, err := db.GetRecord("nope")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})
	})

	Describe("ListRecords", func() {
		It("returns an empty list for an empty ledger", func() {
			records, err := db.ListRecords()
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(BeEmpty())
		})

		It("orders newest first", func() {
			Expect(db.SaveRecord(record("a", "old.png", base))).To(Succeed())
			Expect(db.SaveRecord(record("b", "new.png", base.Add(time.Hour)))).To(Succeed())
			Expect(db.SaveRecord(record("c", "mid.png", base.Add(time.Minute)))).To(Succeed())

			records, err := db.ListRecords()
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(3))
			Expect(records[0].Filename).To(Equal("new.png"))
			Expect(records[2].Filename).To(Equal("old.png"))
		})
	})

	Describe("LatestRecord", func() {
		It("returns nil for an empty ledger", func() {
			latest, err := db.LatestRecord()
			Expect(err).NotTo(HaveOccurred())
			Expect(latest).To(BeNil())
		})

		It("returns the newest record", func() {
			Expect(db.SaveRecord(record("a", "old.png", base))).To(Succeed())
			Expect(db.SaveRecord(record("b", "new.png", base.Add(time.Hour)))).To(Succeed())
			latest, err := db.LatestRecord()
			Expect(err).NotTo(HaveOccurred())
			Expect(latest.ID).To(Equal("b"))
		})
	})

	Describe("DeleteRecordsByFilename", func() {
		It("removes every record for the file", func() {
			Expect(db.SaveRecord(record("a", "same.png", base))).To(Succeed())
			Expect(db.SaveRecord(record("b", "same.png", base))).To(Succeed())
			Expect(db.SaveRecord(record("c", "other.png", base))).To(Succeed())

			n, err := db.DeleteRecordsByFilename("same.png")
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(2))

			records, err := db.ListRecords()
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(1))
			Expect(records[0].ID).To(Equal("c"))
		})

		It("is a no-op for unknown files", func() {
			n, err := db.DeleteRecordsByFilename("ghost.png")
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeZero())
		})
	})
})
