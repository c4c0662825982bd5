// Copyright 2021 The Pangolin Authors. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package jsonblob

import (
	"bytes"
	"io"
	"testing"

	"github.com/plasticuproject/pangolin/support/dataio"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
)

var _ = Describe("Read", func() {
	DescribeTable("consumes exactly the blob and leaves the rest",
		func(input, blob, rest string) {
			r := dataio.MakeReader(bytes.NewReader([]byte(input)))

			v, err := Read(r)
			Expect(err).ToNot(HaveOccurred())
			Expect(string(v.Raw())).To(Equal(blob))

			remainder, err := io.ReadAll(r)
			Expect(err).ToNot(HaveOccurred())
			Expect(string(remainder)).To(Equal(rest))
		},
		Entry("flat object", `{"a":1}X`, `{"a":1}`, "X"),
		Entry("array", `[1,2,3]X`, `[1,2,3]`, "X"),
		Entry("nested containers", `{"a":{"b":[1,{"c":2}]}}X`, `{"a":{"b":[1,{"c":2}]}}`, "X"),
		Entry("braces inside strings", `{"a":"b{["}X`, `{"a":"b{["}`, "X"),
		Entry("escaped quote inside string", `{"a":"x\"}"}X`, `{"a":"x\"}"}`, "X"),
		Entry("escaped backslash before closing quote", `{"a":"x\\"}X`, `{"a":"x\\"}`, "X"),
		Entry("leading whitespace", " \t\r\n{}X", "{}", "X"),
		Entry("trailing newline left unread", `{"a":1}`+"\nPKT", `{"a":1}`, "\nPKT"),
	)

	DescribeTable("rejects what is not a self-delimited blob",
		func(input string) {
			r := dataio.MakeReader(bytes.NewReader([]byte(input)))
			_, err := Read(r)
			Expect(err).To(HaveOccurred())
		},
		Entry("bare scalar", `42`),
		Entry("bare string", `"hello"`),
		Entry("empty input", ``),
		Entry("truncated object", `{"a":`),
		Entry("truncated string", `{"a":"b`),
	)
})

var _ = Describe("Value", func() {
	blob := FromRaw([]byte(`{"driver":"test","version":3,"packet":{"size_bytes":640},"tags":[4,5,6]}`))

	It("extracts typed fields by key path", func() {
		driver, err := blob.String("driver")
		Expect(err).ToNot(HaveOccurred())
		Expect(driver).To(Equal("test"))

		version, err := blob.Int("version")
		Expect(err).ToNot(HaveOccurred())
		Expect(version).To(Equal(int64(3)))

		size, err := blob.Int("packet", "size_bytes")
		Expect(err).ToNot(HaveOccurred())
		Expect(size).To(Equal(int64(640)))
	})

	It("reports missing fields by name", func() {
		_, err := blob.Int("nope")
		Expect(err).To(MatchError(ContainSubstring("nope")))

		Expect(blob.Has("driver")).To(BeTrue())
		Expect(blob.Has("nope")).To(BeFalse())
	})

	It("iterates arrays in order", func() {
		var got []int64
		err := blob.ArrayEach(func(v *Value) {
			n, err := v.Int()
			Expect(err).ToNot(HaveOccurred())
			got = append(got, n)
		}, "tags")
		Expect(err).ToNot(HaveOccurred())
		Expect(got).To(Equal([]int64{4, 5, 6}))
	})

	It("extracts sub-values", func() {
		pkt, err := blob.Get("packet")
		Expect(err).ToNot(HaveOccurred())
		size, err := pkt.Int("size_bytes")
		Expect(err).ToNot(HaveOccurred())
		Expect(size).To(Equal(int64(640)))
	})

	It("treats the nil Value as empty", func() {
		var v *Value
		Expect(v.Raw()).To(BeNil())
		Expect(v.Has("anything")).To(BeFalse())
	})
})

func TestJSONBlob(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Testing jsonblob")
}
