package web

import (
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/webtosite/webtosite/pkg/apperr"
)

// errorBody is the normative body of the tenant error envelope. Quota
// rejections carry the usage window that produced them.
type errorBody struct {
	Message string                `json:"message"`
	Type    string                `json:"type"`
	Usage   *apperr.UsageSnapshot `json:"usage,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// errorMessage is the user-visible text for err. Internal failure
// detail stays in the logs.
func errorMessage(err error) string {
	if ae, ok := apperr.AsError(err); ok && ae.Kind != apperr.KindInternal {
		return ae.Message
	}

	return "internal server error"
}

// renderError writes err in the {error:{message,type}} envelope every
// tenant-facing surface shares.
func renderError(c fiber.Ctx, err error) error {
	kind := apperr.KindOf(err)

	body := errorBody{
		Message: errorMessage(err),
		Type:    string(kind),
	}

	if ae, ok := apperr.AsError(err); ok {
		body.Usage = ae.Usage
	}

	return c.Status(kind.HTTPStatus()).JSON(errorEnvelope{Error: body})
}

func badRequest(c fiber.Ctx, message string) error {
	return renderError(c, apperr.New(apperr.KindValidation, message))
}

// adminError writes err as an RFC 7807 problem document. The operator
// surface keeps this shape; tenants get the envelope above.
func adminError(c fiber.Ctx, err error) error {
	kind := apperr.KindOf(err)

	problem := problems.NewStatusProblem(kind.HTTPStatus()).
		WithInstance(c.Path()).
		WithType(string(kind)).
		WithDetail(errorMessage(err))

	return c.Status(kind.HTTPStatus()).JSON(problem)
}
