package scanning

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type fakeLineInvoker struct {
	lines []Line
	err   error
	calls int
}

func (f *fakeLineInvoker) Name() string { return "ocr" }

func (f *fakeLineInvoker) InvokeLines(context.Context, []byte, string) ([]Line, error) {
	f.calls++
	return f.lines, f.err
}

var _ = Describe("LineAdapter", func() {
	var (
		invoker *fakeLineInvoker
		result  *Result
		err     error
	)

	BeforeEach(func() {
		invoker = &fakeLineInvoker{}
	})

	JustBeforeEach(func() {
		adapter := NewLineAdapter(invoker, nil)
		result, err = adapter.Extract(context.Background(), NewRequest([]byte("png"), "image/png"))
	})

	When("the receipt reads cleanly", func() {
		BeforeEach(func() {
			invoker.lines = []Line{
				{Text: "ACME MARKT GmbH", Confidence: 0.92},
				{Text: "Hauptstr. 5, 10115 Berlin", Confidence: 0.9},
				{Text: "Date: 2024-03-05 14:22", Confidence: 0.88},
				{Text: "Bread 2.50", Confidence: 0.9},
				{Text: "SUBTOTAL 100.00", Confidence: 0.9},
				{Text: "VAT 19% 19.00", Confidence: 0.8},
				{Text: "TOTAL EUR 119.00", Confidence: 0.95},
				{Text: "VAT Reg No: DE123456789", Confidence: 0.85},
			}
		})

		It("should read the fields", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Fields.IssuerName).To(Equal("ACME MARKT GmbH"))
			Expect(result.Fields.Date).To(Equal("2024-03-05"))
			Expect(*result.Fields.Subtotal).To(Equal(Money(10000)))
			Expect(*result.Fields.TotalAmount).To(Equal(Money(11900)))
			Expect(result.Fields.Currency).To(Equal("EUR"))
			Expect(result.Fields.RegistrationNumber).To(Equal("DE123456789"))
			Expect(result.Fields.Category).To(Equal(DefaultCategory))
		})

		It("should read the tax line", func() {
			Expect(result.Fields.TaxBreakdown).To(Equal([]TaxLine{{Rate: 19, Amount: money(1900)}}))
		})

		It("should carry the line confidences", func() {
			Expect(result.FieldConfidence).To(Equal(FieldConfidence{
				FieldIssuerName:         0.92,
				FieldDate:               0.88,
				FieldSubtotal:           0.9,
				FieldTotalAmount:        0.95,
				FieldTaxBreakdown:       0.8,
				FieldRegistrationNumber: 0.85,
			}))
			Expect(result.Confidence).To(Equal(OverallConfidence(result.FieldConfidence)))
		})

		It("should record a line trace", func() {
			Expect(result.Trace.Kind).To(Equal(KindLines))
			Expect(result.Trace.Engine).To(Equal("ocr"))
			Expect(result.Trace.Raw).To(HavePrefix("ACME MARKT GmbH\nHauptstr."))
		})

		It("should not warn", func() {
			Expect(result.Warnings).To(BeEmpty())
		})
	})

	When("the header is garbled", func() {
		BeforeEach(func() {
			invoker.lines = []Line{
				{Text: "W@#% M4RT", Confidence: 0.9},
				{Text: "TOTAL $12.00", Confidence: 0.9},
			}
		})

		It("should cap the issuer confidence", func() {
			Expect(result.Fields.IssuerName).To(Equal("W@#% M4RT"))
			Expect(result.FieldConfidence[FieldIssuerName]).To(Equal(GarbledConfidence))
			Expect(result.Warnings).To(ContainElement(ContainSubstring("garbled")))
		})

		It("should map the currency symbol", func() {
			Expect(result.Fields.Currency).To(Equal("USD"))
		})
	})

	When("there is no total line", func() {
		BeforeEach(func() {
			invoker.lines = []Line{{Text: "Corner Shop", Confidence: -1}}
		})

		It("should warn and leave the total absent", func() {
			Expect(result.Fields.TotalAmount).To(BeNil())
			Expect(result.Warnings).To(ContainElement("no total line recognized"))
		})

		It("should not invent a confidence for unscored lines", func() {
			Expect(result.FieldConfidence).To(BeEmpty())
			Expect(result.Confidence).To(Equal(0.0))
		})
	})

	When("the engine is unavailable", func() {
		BeforeEach(func() {
			invoker.err = ErrUnavailable
		})

		It("should return the error", func() {
			Expect(err).To(MatchError(ErrUnavailable))
			Expect(result).To(BeNil())
		})
	})
})
