package validation_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	errors "github.com/frahmantamala/storefront-payments/internal"
	"github.com/frahmantamala/storefront-payments/internal/core/common/validation"
)

var _ = Describe("ValidationBuilder", func() {
	It("passes valid input", func() {
		v := validation.NewValidator()
		v.Field("amount", "100.50").Decimal(errors.ErrCodeInvalidAmount).PositiveDecimal(errors.ErrCodeInvalidAmount)
		v.Field("reason", "damaged").Required().MaxLength(10)
		Expect(v.Validate()).To(BeNil())
	})

	It("collects every failing field", func() {
		v := validation.NewValidator()
		v.Field("amount", "abc").Decimal(errors.ErrCodeInvalidAmount)
		v.Field("reason", "").Required()

		appErr := v.Validate()
		Expect(appErr).NotTo(BeNil())
		Expect(appErr.Code).To(Equal(errors.ErrCodeValidationFailed))

		details, ok := appErr.Details.(errors.ValidationErrors)
		Expect(ok).To(BeTrue())
		Expect(details.Errors).To(HaveLen(2))
		Expect(details.Errors[0].Field).To(Equal("amount"))
		Expect(details.Errors[0].Code).To(Equal(string(errors.ErrCodeInvalidAmount)))
		Expect(details.Errors[1].Message).To(Equal("reason is required"))
	})

	DescribeTable("PositiveDecimal",
		func(value string, ok bool) {
			v := validation.NewValidator()
			v.Field("amount", value).PositiveDecimal(errors.ErrCodeInvalidAmount)
			if ok {
				Expect(v.Validate()).To(BeNil())
			} else {
				Expect(v.Validate()).NotTo(BeNil())
			}
		},
		Entry("positive", "0.01", true),
		Entry("empty is left to Required", "", true),
		Entry("zero", "0", false),
		Entry("negative", "-5", false),
	)

	It("enforces length bounds", func() {
		v := validation.NewValidator()
		v.Field("reason", "ab").MinLength(3)
		v.Field("note", "abcdef").MaxLength(5)
		appErr := v.Validate()
		Expect(appErr).NotTo(BeNil())
		Expect(appErr.GetDetailedMessage()).To(Equal("reason must be at least 3 characters; note must not exceed 5 characters"))
	})
})
