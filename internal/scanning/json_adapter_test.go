package scanning

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// fakeInvoker answers with scripted outputs, one per call. The last output
// repeats once the script is exhausted.
type fakeInvoker struct {
	name    string
	outputs []string
	err     error
	budgets []int
}

func (f *fakeInvoker) Name() string { return f.name }

func (f *fakeInvoker) Invoke(_ context.Context, _ []byte, _ string, cfg InvokeConfig) (string, error) {
	f.budgets = append(f.budgets, cfg.MaxOutputTokens)
	if f.err != nil {
		return "", f.err
	}
	i := len(f.budgets) - 1
	if i >= len(f.outputs) {
		i = len(f.outputs) - 1
	}
	return f.outputs[i], nil
}

const (
	completeDocument = `{"issuerName":"Acme","date":"2024-03-05","totalAmount":15.00,` +
		`"taxBreakdown":[{"rate":19,"amount":2.39}],"confidence":{"issuerName":0.9,"date":0.9,"totalAmount":0.9,"taxBreakdown":0.9}}`
	truncatedDocument = `{"issuerName":"Acme","totalAmount":15.00,"taxBreak`
)

var _ = Describe("JSONAdapter", func() {
	var (
		invoker *fakeInvoker
		adapter *JSONAdapter
		req     Request
		result  *Result
		err     error
	)

	BeforeEach(func() {
		invoker = &fakeInvoker{name: "fake"}
		adapter = NewJSONAdapter(invoker, DefaultBudgetLadder, nil)
		req = NewRequest([]byte("png bytes"), "image/png")
	})

	JustBeforeEach(func() {
		result, err = adapter.Extract(context.Background(), req)
	})

	When("the first answer parses", func() {
		BeforeEach(func() {
			invoker.outputs = []string{completeDocument}
		})

		It("should call the engine once with the smallest budget", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(invoker.budgets).To(Equal([]int{1024}))
		})

		It("should return the canonical fields", func() {
			Expect(result.Fields.IssuerName).To(Equal("Acme"))
			Expect(result.Fields.Date).To(Equal("2024-03-05"))
			Expect(*result.Fields.TotalAmount).To(Equal(Money(1500)))
			Expect(result.Fields.TaxBreakdown).To(HaveLen(1))
		})

		It("should compute the overall confidence from the fields", func() {
			Expect(result.Confidence).To(BeNumerically("~", 0.9, 1e-9))
		})

		It("should record a trace", func() {
			Expect(result.Trace).To(Equal(&Trace{
				Engine: "fake", Kind: KindStructured, Raw: completeDocument, Budget: 1024, Attempts: 1,
			}))
		})
	})

	When("the first answer is truncated", func() {
		BeforeEach(func() {
			invoker.outputs = []string{truncatedDocument, completeDocument}
		})

		It("should retry with the next budget", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(invoker.budgets).To(Equal([]int{1024, 2048}))
			Expect(result.Trace.Budget).To(Equal(2048))
			Expect(result.Trace.Attempts).To(Equal(2))
			Expect(result.Trace.Salvaged).To(BeFalse())
		})
	})

	When("every budget is truncated", func() {
		BeforeEach(func() {
			invoker.outputs = []string{truncatedDocument}
		})

		It("should climb the whole ladder", func() {
			Expect(invoker.budgets).To(Equal([]int{1024, 2048, 4096, 8192}))
		})

		It("should salvage the well-formed prefix", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Fields.IssuerName).To(Equal("Acme"))
			Expect(*result.Fields.TotalAmount).To(Equal(Money(1500)))
			Expect(result.Fields.TaxBreakdown).To(BeEmpty())
		})

		It("should flag the result", func() {
			Expect(result.Trace.Salvaged).To(BeTrue())
			Expect(result.Trace.Raw).To(Equal(truncatedDocument))
			Expect(result.Warnings).To(ContainElement(ContainSubstring("incomplete")))
		})
	})

	When("the answer is broken in a way salvage cannot fix", func() {
		BeforeEach(func() {
			invoker.outputs = []string{`{"issuerName": nope}`}
		})

		It("should not climb the ladder", func() {
			Expect(invoker.budgets).To(HaveLen(1))
		})

		It("should return a malformed output error with the raw text", func() {
			Expect(err).To(MatchError(ErrMalformedOutput))
			var mErr *MalformedOutputError
			Expect(errors.As(err, &mErr)).To(BeTrue())
			Expect(mErr.Raw).To(Equal(`{"issuerName": nope}`))
			Expect(mErr.Engine).To(Equal("fake"))
		})
	})

	When("the answer holds no JSON", func() {
		BeforeEach(func() {
			invoker.outputs = []string{"I cannot read this receipt."}
		})

		It("should return a malformed output error", func() {
			Expect(err).To(MatchError(ErrMalformedOutput))
			Expect(result).To(BeNil())
		})
	})

	When("the document is empty", func() {
		BeforeEach(func() {
			req = NewRequest(nil, "image/png")
		})

		It("should fail without calling the engine", func() {
			Expect(err).To(MatchError(ErrUnsupportedInput))
			Expect(invoker.budgets).To(BeEmpty())
		})
	})

	When("the media type is unsupported", func() {
		BeforeEach(func() {
			req = NewRequest([]byte("hello"), "text/plain")
		})

		It("should fail without calling the engine", func() {
			Expect(err).To(MatchError(ErrUnsupportedInput))
			Expect(invoker.budgets).To(BeEmpty())
		})
	})

	When("the engine fails", func() {
		BeforeEach(func() {
			invoker.err = errors.New("boom")
		})

		It("should return a remote error", func() {
			Expect(err).To(MatchError(ErrRemote))
			var rErr *RemoteError
			Expect(errors.As(err, &rErr)).To(BeTrue())
			Expect(rErr.Engine).To(Equal("fake"))
		})
	})

	When("the engine is unavailable", func() {
		BeforeEach(func() {
			invoker.err = ErrUnavailable
		})

		It("should keep the unavailable classification", func() {
			Expect(err).To(MatchError(ErrUnavailable))
			Expect(errors.Is(err, ErrRemote)).To(BeFalse())
		})
	})

	When("no ladder is configured", func() {
		BeforeEach(func() {
			invoker.outputs = []string{truncatedDocument}
			adapter = NewJSONAdapter(invoker, nil, nil)
		})

		It("should call once with the engine default and salvage", func() {
			Expect(invoker.budgets).To(Equal([]int{0}))
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Trace.Salvaged).To(BeTrue())
		})
	})
})

var _ = Describe("IsTruncation", func() {
	It("should recognize truncation messages", func() {
		Expect(IsTruncation(errors.New("unmarshaling json: unexpected EOF"))).To(BeTrue())
		Expect(IsTruncation(errors.New("Unterminated string in JSON"))).To(BeTrue())
	})

	It("should reject other errors", func() {
		Expect(IsTruncation(errors.New("invalid character 'o'"))).To(BeFalse())
		Expect(IsTruncation(nil)).To(BeFalse())
	})
})
