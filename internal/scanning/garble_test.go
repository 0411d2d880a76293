package scanning

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = DescribeTable("LooksGarbled",
	func(text string, garbled bool) {
		Expect(LooksGarbled(text)).To(Equal(garbled))
	},
	Entry("a plain merchant name", "CVS Pharmacy", false),
	Entry("a name with a store number", "Walmart Supercenter #1234", false),
	Entry("accented letters", "Bäckerei Müller GmbH", false),
	Entry("an empty string", "", false),
	Entry("a symbol run", "W@#$mart", true),
	Entry("digits only", "12/03 14:22", true),
	Entry("doubled letters", "Coffee Hall", false),
	Entry("a repeated character", "Baaaaar", true),
	Entry("a repeated symbol", "IIII||||", true),
	Entry("a lone letter among symbols", "X 1 %", true),
	Entry("a short brand name", "3M", false),
	Entry("a two letter name", "BP", false),
	Entry("mostly digits", "A1B2C3D4E5F6 99", true),
)
