package receipt

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		baseDir string
		store   *LocalStorage
	)

	BeforeEach(func() {
		baseDir = filepath.Join(GinkgoT().TempDir(), "documents")
		var err error
		store, err = NewLocalStorage(baseDir)
		Expect(err).NotTo(HaveOccurred())
	})

	It("should create the base directory", func() {
		Expect(baseDir).To(BeADirectory())
	})

	It("should accept an existing base directory", func() {
		_, err := NewLocalStorage(baseDir)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Save", func() {
		It("should write the document under its key", func() {
			key, err := store.Save("id1_receipt.png", []byte("png data"))
			Expect(err).NotTo(HaveOccurred())
			Expect(key).To(Equal("id1_receipt.png"))

			data, err := os.ReadFile(filepath.Join(baseDir, "id1_receipt.png"))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("png data"))
		})

		It("should replace an existing document", func() {
			_, err := store.Save("id1_receipt.png", []byte("old"))
			Expect(err).NotTo(HaveOccurred())
			_, err = store.Save("id1_receipt.png", []byte("new"))
			Expect(err).NotTo(HaveOccurred())

			data, err := store.Get("id1_receipt.png")
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("new"))
		})
	})

	Describe("Get", func() {
		It("should wrap a missing document", func() {
			_, err := store.Get("missing.png")
			Expect(err).To(MatchError(ContainSubstring("reading file")))
			Expect(err).To(MatchError(os.ErrNotExist))
		})
	})

	Describe("Delete", func() {
		It("should remove the document", func() {
			_, err := store.Save("id1_receipt.png", []byte("png data"))
			Expect(err).NotTo(HaveOccurred())

			Expect(store.Delete("id1_receipt.png")).To(Succeed())
			Expect(filepath.Join(baseDir, "id1_receipt.png")).NotTo(BeAnExistingFile())
		})

		It("should wrap a missing document", func() {
			Expect(store.Delete("missing.png")).To(MatchError(ContainSubstring("deleting file")))
		})
	})

	DescribeTable("rejecting keys outside the base directory",
		func(key string) {
			_, err := store.Save(key, []byte("data"))
			Expect(err).To(MatchError(ErrInvalidPath))

			_, err = store.Get(key)
			Expect(err).To(MatchError(ErrInvalidPath))

			Expect(store.Delete(key)).To(MatchError(ErrInvalidPath))
		},
		Entry("parent traversal", "../escape.png"),
		Entry("nested path", "sub/dir.png"),
		Entry("absolute path", "/etc/passwd"),
		Entry("dot", "."),
		Entry("dot dot", ".."),
		Entry("empty", ""),
	)

	It("should not write outside the base directory", func() {
		_, _ = store.Save("../escape.png", []byte("data"))
		Expect(filepath.Join(filepath.Dir(baseDir), "escape.png")).NotTo(BeAnExistingFile())
	})
})
