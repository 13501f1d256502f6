package middleware

import (
	goerrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"

	errors "github.com/frahmantamala/storefront-payments/internal"
	"github.com/frahmantamala/storefront-payments/internal/transport"
)

// ValidateOperation checks requests against one operation of doc before
// they reach the handler. path is relative to the document's server URL.
// Only parameters and bodies are validated; auth is left to the handlers.
func ValidateOperation(doc *openapi3.T, method, path string, logger *slog.Logger) (func(http.Handler) http.Handler, error) {
	item := doc.Paths.Find(path)
	if item == nil {
		return nil, fmt.Errorf("openapi document has no path %s", path)
	}
	op := item.GetOperation(strings.ToUpper(method))
	if op == nil {
		return nil, fmt.Errorf("openapi document has no %s %s", method, path)
	}

	route := &routers.Route{
		Spec:      doc,
		Path:      path,
		PathItem:  item,
		Method:    strings.ToUpper(method),
		Operation: op,
	}
	options := &openapi3filter.Options{AuthenticationFunc: openapi3filter.NoopAuthenticationFunc}
	base := transport.NewBaseHandler(logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			input := &openapi3filter.RequestValidationInput{
				Request: r,
				Route:   route,
				Options: options,
			}
			if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
				logger.Warn("request rejected by openapi validation", "path", r.URL.Path, "error", err)
				base.HandleError(w, errors.NewValidationError(validationMessage(err), errors.ErrCodeValidationFailed))
				return
			}
			next.ServeHTTP(w, r)
		})
	}, nil
}

func validationMessage(err error) string {
	var reqErr *openapi3filter.RequestError
	if goerrors.As(err, &reqErr) && reqErr.Err != nil {
		if reqErr.Parameter != nil {
			return fmt.Sprintf("invalid %s parameter %s: %v", reqErr.Parameter.In, reqErr.Parameter.Name, reqErr.Err)
		}
		return "invalid request body: " + reqErr.Err.Error()
	}
	return "request does not match the API schema"
}
