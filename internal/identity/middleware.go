package identity

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"classroom/pkg/types"
)

const contextKey = "participant"

// Middleware authenticates requests with a Bearer identity token and stores
// the resulting participant in the echo context.
func Middleware(v *Verifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			token := strings.TrimPrefix(header, "Bearer ")
			if token == header {
				token = ""
			}
			p, err := v.Verify(token)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"success": false, "message": "authentication required"})
			}
			c.Set(contextKey, p)
			return next(c)
		}
	}
}

// RequireRole rejects requests whose participant role is not in the allowed
// set.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := FromContext(c)
			if !ok || !allowed[p.Role] {
				return c.JSON(http.StatusForbidden, echo.Map{"success": false, "message": "forbidden"})
			}
			return next(c)
		}
	}
}

// FromContext returns the authenticated participant set by Middleware.
func FromContext(c echo.Context) (types.Participant, bool) {
	p, ok := c.Get(contextKey).(types.Participant)
	return p, ok
}
