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

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		img.Set(x, x, color.RGBA{B: 255, A: 255})
	}
	return img
}

var _ = Describe("prepareImages", func() {
	var (
		data        []byte
		contentType string
		pages       [][]byte
		err         error
	)

	JustBeforeEach(func() {
		pages, err = prepareImages(data, contentType)
	})

	When("the upload is already PNG", func() {
		BeforeEach(func() {
			var buf bytes.Buffer
			Expect(png.Encode(&buf, testImage())).To(Succeed())
			data = buf.Bytes()
			contentType = "image/png"
		})

		It("should pass it through", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(pages).To(HaveLen(1))
			Expect(pages[0]).To(Equal(data))
		})
	})

	When("the upload is JPEG", func() {
		BeforeEach(func() {
			var buf bytes.Buffer
			Expect(jpeg.Encode(&buf, testImage(), nil)).To(Succeed())
			data = buf.Bytes()
			contentType = " Image/JPEG "
		})

		It("should convert it to PNG", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(pages).To(HaveLen(1))
			_, format, decodeErr := image.Decode(bytes.NewReader(pages[0]))
			Expect(decodeErr).NotTo(HaveOccurred())
			Expect(format).To(Equal("png"))
		})
	})

	When("the upload is not an image", func() {
		BeforeEach(func() {
			data = []byte("plain text")
			contentType = "text/plain"
		})

		It("returns an error", func() {
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("unsupported image format"))
		})
	})
})

var _ = Describe("HEIC detection", func() {
	It("recognises HEIC brands", func() {
		header := append([]byte{0, 0, 0, 24}, []byte("ftypheic")...)
		Expect(isHEICFormat(header)).To(BeTrue())
	})

	It("ignores other files", func() {
		Expect(isHEICFormat([]byte("%PDF-1.7 plus some more"))).To(BeFalse())
		Expect(isHEICFormat([]byte("short"))).To(BeFalse())
	})

	It("recognises HEIC MIME types", func() {
		Expect(isHEICMimeType("image/HEIF")).To(BeTrue())
		Expect(isHEICMimeType("image/jpeg")).To(BeFalse())
	})
})
