package api

import (
	"net/http"
	"net/url"
	"strings"

	"consulting-crm/internal/common/errors"

	"github.com/gin-gonic/gin"
)

const listPath = "/applications"

func applicationPath(id string) string {
	return listPath + "/" + url.PathEscape(id)
}

func bookingPath(id string) string {
	return "/bookings/" + url.PathEscape(id)
}

// wantsJSON is true for asynchronous callers; everyone else gets a redirect.
func wantsJSON(c *gin.Context) bool {
	if strings.EqualFold(c.GetHeader("X-Requested-With"), "XMLHttpRequest") {
		return true
	}
	return strings.Contains(c.GetHeader("Accept"), "application/json")
}

// respond writes the outcome of a mutation. success is only called when err
// is nil and returns the extra JSON fields and the flash message.
func (s *Server) respond(c *gin.Context, target string, err error, success func() (gin.H, string)) {
	id := c.Param("id")

	if err != nil {
		if wantsJSON(c) {
			s.writeError(c, err)
			return
		}
		if errors.IsPermissionDenied(err) || errors.IsNotFound(err) {
			target = listPath
		}
		s.redirect(c, target, levelFor(err), messageFor(err))
		return
	}

	fields, message := success()
	if wantsJSON(c) {
		body := gin.H{"ok": true, "application_id": id}
		for k, v := range fields {
			body[k] = v
		}
		c.JSON(http.StatusOK, body)
		return
	}
	s.redirect(c, target, "success", message)
}

func (s *Server) writeError(c *gin.Context, err error) {
	stdErr := errors.Normalize(err)
	status := errors.HTTPStatus(stdErr.Code)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", map[string]interface{}{
			"path":  c.Request.URL.Path,
			"code":  string(stdErr.Code),
			"error": err,
		})
	}

	body := gin.H{"ok": false, "error": messageFor(err), "code": stdErr.Code}
	if id := c.Param("id"); id != "" {
		body["application_id"] = id
	}
	c.JSON(status, body)
}

func (s *Server) redirect(c *gin.Context, target, level, message string) {
	q := url.Values{}
	q.Set("level", level)
	q.Set("message", message)
	c.Redirect(http.StatusSeeOther, target+"?"+q.Encode())
}

func levelFor(err error) string {
	if errors.IsWarning(err) {
		return "warning"
	}
	return "error"
}

// messageFor hides infrastructure detail from users.
func messageFor(err error) string {
	stdErr := errors.Normalize(err)
	switch {
	case errors.IsPermissionDenied(err), errors.IsInvalidTransition(err),
		errors.IsValidation(err), errors.IsNotFound(err):
		return stdErr.Message
	case stdErr.Code == errors.ErrCodeConcurrentModification:
		return "The application was changed by someone else. Please reload and try again."
	default:
		return "Something went wrong. Please try again later."
	}
}
