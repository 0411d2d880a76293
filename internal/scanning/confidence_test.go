package scanning

import (
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("OverallConfidence", func() {
	It("should be zero for an empty map", func() {
		Expect(OverallConfidence(FieldConfidence{})).To(Equal(0.0))
		Expect(OverallConfidence(nil)).To(Equal(0.0))
	})

	It("should average only the fields that are present", func() {
		fc := FieldConfidence{FieldTotalAmount: 1.0, FieldIssuerName: 0.5}
		// (0.30*1.0 + 0.25*0.5) / 0.55
		Expect(OverallConfidence(fc)).To(BeNumerically("~", 0.425/0.55, 1e-12))
	})

	It("should equal the value when every field agrees", func() {
		fc := FieldConfidence{
			FieldTotalAmount:        0.7,
			FieldIssuerName:         0.7,
			FieldDate:               0.7,
			FieldTaxBreakdown:       0.7,
			FieldRegistrationNumber: 0.7,
			FieldCategory:           0.7,
		}
		Expect(OverallConfidence(fc)).To(BeNumerically("~", 0.7, 1e-12))
	})

	It("should ignore fields without a weight", func() {
		Expect(OverallConfidence(FieldConfidence{FieldCurrency: 1, FieldSubtotal: 1})).To(Equal(0.0))
	})

	It("should clamp out of range values and skip NaN", func() {
		fc := FieldConfidence{FieldTotalAmount: 3, FieldDate: math.NaN()}
		Expect(OverallConfidence(fc)).To(Equal(1.0))
	})

	It("should be deterministic", func() {
		fc := FieldConfidence{
			FieldTotalAmount: 0.91, FieldIssuerName: 0.37, FieldDate: 0.58,
			FieldTaxBreakdown: 0.11, FieldRegistrationNumber: 0.73, FieldCategory: 0.29,
		}
		first := OverallConfidence(fc)
		for i := 0; i < 100; i++ {
			Expect(OverallConfidence(fc)).To(Equal(first))
		}
	})
})

var _ = Describe("FieldConfidence", func() {
	Describe("Set", func() {
		It("should clamp to [0,1]", func() {
			fc := FieldConfidence{}
			fc.Set(FieldDate, -1)
			fc.Set(FieldIssuerName, 2)
			Expect(fc).To(Equal(FieldConfidence{FieldDate: 0, FieldIssuerName: 1}))
		})

		It("should ignore NaN", func() {
			fc := FieldConfidence{}
			fc.Set(FieldDate, math.NaN())
			Expect(fc).To(BeEmpty())
		})
	})

	Describe("Cap", func() {
		It("should lower a higher value", func() {
			fc := FieldConfidence{FieldIssuerName: 0.9}
			fc.Cap(FieldIssuerName, 0.2)
			Expect(fc[FieldIssuerName]).To(Equal(0.2))
		})

		It("should keep a lower value", func() {
			fc := FieldConfidence{FieldIssuerName: 0.1}
			fc.Cap(FieldIssuerName, 0.2)
			Expect(fc[FieldIssuerName]).To(Equal(0.1))
		})

		It("should set a missing value", func() {
			fc := FieldConfidence{}
			fc.Cap(FieldIssuerName, 0.2)
			Expect(fc).To(HaveKeyWithValue(FieldIssuerName, 0.2))
		})
	})
})
