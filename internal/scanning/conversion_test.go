package scanning

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func tinyImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.White)
	return img
}

func tinyPNG() []byte {
	var buf bytes.Buffer
	Expect(png.Encode(&buf, tinyImage())).To(Succeed())
	return buf.Bytes()
}

var _ = Describe("PrepareImage", func() {
	It("should pass PNG through", func() {
		in := tinyPNG()
		out, err := PrepareImage(in, "image/png")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal(in))
	})

	It("should convert JPEG to PNG", func() {
		var buf bytes.Buffer
		Expect(jpeg.Encode(&buf, tinyImage(), nil)).To(Succeed())

		out, err := PrepareImage(buf.Bytes(), "image/jpg")
		Expect(err).NotTo(HaveOccurred())
		_, format, err := image.Decode(bytes.NewReader(out))
		Expect(err).NotTo(HaveOccurred())
		Expect(format).To(Equal("png"))
	})

	It("should reject unsupported media types", func() {
		_, err := PrepareImage([]byte("hello"), "text/plain")
		Expect(err).To(MatchError(ErrUnsupportedInput))
	})

	It("should reject undecodable images", func() {
		_, err := PrepareImage([]byte("not a jpeg"), "image/jpeg")
		Expect(err).To(MatchError(ErrUnsupportedInput))
	})
})

var _ = Describe("isHEICFormat", func() {
	It("should detect the ftyp brand", func() {
		Expect(isHEICFormat([]byte("\x00\x00\x00\x18ftypheic\x00\x00\x00\x00"))).To(BeTrue())
		Expect(isHEICFormat(tinyPNG())).To(BeFalse())
	})
})

var _ = Describe("NormalizeMediaType", func() {
	It("should lowercase and drop parameters", func() {
		Expect(NormalizeMediaType(" Image/JPG; charset=binary")).To(Equal("image/jpeg"))
	})
})
