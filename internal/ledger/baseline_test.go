package ledger

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// mockWriter is a mock implementation of Writer
type mockWriter struct {
	previous    int
	previousErr error
	entries     []Entry
}

func (m *mockWriter) AppendRecord(ctx context.Context, entry Entry) (int, error) {
	m.entries = append(m.entries, entry)
	return len(m.entries) + 1, nil
}

func (m *mockWriter) PreviousMileage(ctx context.Context) (int, error) {
	return m.previous, m.previousErr
}

var _ = Describe("FileBaseline", func() {
	var (
		path     string
		baseline *FileBaseline
		ctx      context.Context
	)

	BeforeEach(func() {
		path = filepath.Join(GinkgoT().TempDir(), "state", "mileage.txt")
		var err error
		baseline, err = NewFileBaseline(path)
		Expect(err).NotTo(HaveOccurred())
		ctx = context.Background()
	})

	When("the file does not exist", func() {
		It("should load zero", func() {
			mileage, err := baseline.Load(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(mileage).To(BeZero())
		})
	})

	When("a mileage was saved", func() {
		BeforeEach(func() {
			Expect(baseline.Save(ctx, 12050)).To(Succeed())
		})

		It("should load it back", func() {
			mileage, err := baseline.Load(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(mileage).To(Equal(12050))
		})

		It("should store plain text", func() {
			data, err := os.ReadFile(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("12050\n"))
		})

		It("should leave no temp files behind", func() {
			entries, err := os.ReadDir(filepath.Dir(path))
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(1))
		})
	})

	When("the file holds garbage", func() {
		BeforeEach(func() {
			Expect(os.WriteFile(path, []byte("twelve"), 0644)).To(Succeed())
		})

		It("should return an error", func() {
			_, err := baseline.Load(ctx)
			Expect(err).To(HaveOccurred())
		})
	})
})

var _ = Describe("LedgerBaseline", func() {
	var (
		writer   *mockWriter
		baseline *LedgerBaseline
	)

	BeforeEach(func() {
		writer = &mockWriter{previous: 12000}
		baseline = NewLedgerBaseline(writer)
	})

	It("should load the ledger's previous mileage", func() {
		mileage, err := baseline.Load(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(mileage).To(Equal(12000))
	})

	It("should wrap ledger errors", func() {
		writer.previousErr = errors.New("quota exceeded")
		_, err := baseline.Load(context.Background())
		Expect(err).To(MatchError(ContainSubstring("quota exceeded")))
	})

	It("should not write anything on save", func() {
		Expect(baseline.Save(context.Background(), 12050)).To(Succeed())
		Expect(writer.entries).To(BeEmpty())
	})
})
