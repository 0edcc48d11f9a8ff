package refill

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("DirArchive", func() {
	var (
		tmpDir  string
		archive *DirArchive
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		archive, err = NewDirArchive(filepath.Join(tmpDir, "rejects"))
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Save", func() {
		var (
			name string
			err  error
		)

		JustBeforeEach(func() {
			name, err = archive.Save("abc", []byte("raw message"))
		})

		It("should store the message as an .eml file", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(name).To(Equal("abc.eml"))

			data, readErr := os.ReadFile(filepath.Join(tmpDir, "rejects", "abc.eml"))
			Expect(readErr).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("raw message"))
		})

		It("should be readable through Get", func() {
			data, getErr := archive.Get(name)
			Expect(getErr).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("raw message"))
		})
	})

	Describe("path handling", func() {
		It("should keep names inside the archive directory", func() {
			name, err := archive.Save("../../escape", []byte("x"))
			Expect(err).NotTo(HaveOccurred())
			Expect(name).To(Equal("escape.eml"))
			Expect(filepath.Join(tmpDir, "rejects", "escape.eml")).To(BeAnExistingFile())
		})

		It("should reject an empty name", func() {
			_, err := archive.Get("")
			Expect(err).To(MatchError(ContainSubstring("invalid archive name")))
		})
	})

	Describe("Delete", func() {
		It("should remove the file", func() {
			name, err := archive.Save("gone", []byte("x"))
			Expect(err).NotTo(HaveOccurred())
			Expect(archive.Delete(name)).To(Succeed())

			_, err = archive.Get(name)
			Expect(err).To(HaveOccurred())
		})

		It("should return an error for a missing file", func() {
			Expect(archive.Delete("nope.eml")).To(MatchError(ContainSubstring("deleting archived message")))
		})
	})
})
