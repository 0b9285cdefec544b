package validation

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
)

// BindAndValidate binds JSON body into `out` and runs validation.
// If validation fails, it writes a 400 response and returns an error for the handler to short-circuit.
func BindAndValidate(c *gin.Context, out interface{}, v *validatorv10.Validate) error {
	if err := c.ShouldBindJSON(out); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error": "invalid_request_body",
			"msg":   err.Error(),
		})
		return err
	}

	if err := v.Struct(out); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":  "validation_failed",
			"fields": FieldErrors(err),
		})
		return err
	}
	return nil
}

// FieldErrors maps each failing field, by its JSON path, to the rule it broke.
func FieldErrors(err error) map[string]string {
	out := map[string]string{}
	var ve validatorv10.ValidationErrors
	if !errors.As(err, &ve) {
		out["error"] = err.Error()
		return out
	}
	for _, fe := range ve {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		out[trimRoot(fe.Namespace())] = rule
	}
	return out
}

// trimRoot drops the struct name from "CheckoutRequest.items[0].price".
func trimRoot(ns string) string {
	for i := 0; i < len(ns); i++ {
		if ns[i] == '.' {
			return ns[i+1:]
		}
	}
	return ns
}
