package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"consulting-crm/internal/common/errors"
	"consulting-crm/internal/common/validation"
	"consulting-crm/internal/workflow"

	"github.com/gin-gonic/gin"
)

type approveRequest struct {
	ApprovedAmount interface{} `json:"approved_amount"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

type createRequest struct {
	SchemeID      string      `json:"scheme_id"`
	AppliedAmount interface{} `json:"applied_amount"`
	Notes         string      `json:"notes"`
}

func (s *Server) listApplications(c *gin.Context) {
	actor, _ := actorFrom(c)

	listing, err := s.service.List(c.Request.Context(), actor, workflow.ListOptions{Status: c.Query("status")})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "applications": listing.Applications, "stats": listing.Stats, "groups": listing.Groups})
}

const (
	defaultInboxLimit = 20
	maxInboxLimit     = 100
)

func (s *Server) listNotifications(c *gin.Context) {
	actor, _ := actorFrom(c)

	limit := defaultInboxLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(c, errors.NewValidationError("limit", "limit must be a positive integer"))
			return
		}
		if n > maxInboxLimit {
			n = maxInboxLimit
		}
		limit = n
	}

	items, err := s.opts.Inbox.ListNotifications(c.Request.Context(), actor.ID, limit)
	if err != nil {
		s.writeError(c, errors.NewQueryExecutionFailedError("list_notifications", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "notifications": items})
}

func (s *Server) getApplication(c *gin.Context) {
	actor, _ := actorFrom(c)
	id := c.Param("id")

	app, err := s.service.Get(c.Request.Context(), actor, id)
	if err != nil {
		if wantsJSON(c) {
			s.writeError(c, err)
			return
		}
		// A denied read falls back to the list view.
		s.redirect(c, listPath, levelFor(err), messageFor(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "application": app})
}

func (s *Server) createApplication(c *gin.Context) {
	actor, _ := actorFrom(c)
	bookingID := c.Param("bookingId")

	var req createRequest
	if err := s.bind(c, validation.SchemaCreateApplication, &req); err != nil {
		s.respond(c, bookingPath(bookingID), err, nil)
		return
	}

	res, err := s.service.CreateFromBooking(c.Request.Context(), actor, workflow.CreateInput{
		BookingID:     bookingID,
		SchemeID:      req.SchemeID,
		AppliedAmount: amountString(req.AppliedAmount),
		Notes:         req.Notes,
	})
	if err != nil {
		s.respond(c, bookingPath(bookingID), err, nil)
		return
	}

	id := res.Application.ApplicationID
	if wantsJSON(c) {
		c.JSON(http.StatusCreated, gin.H{"ok": true, "status": res.Application.Status, "application_id": id, "application": res.Application})
		return
	}
	s.redirect(c, applicationPath(id), "success", fmt.Sprintf("Application %s created.", id))
}

func (s *Server) submitApplication(c *gin.Context) {
	actor, _ := actorFrom(c)
	id := c.Param("id")

	res, err := s.service.Submit(c.Request.Context(), actor, id)
	s.respond(c, applicationPath(id), err, func() (gin.H, string) {
		return gin.H{"status": res.Application.Status}, "Application submitted for review."
	})
}

func (s *Server) approveApplication(c *gin.Context) {
	actor, _ := actorFrom(c)
	id := c.Param("id")

	var req approveRequest
	if err := s.bind(c, validation.SchemaApprove, &req); err != nil {
		s.respond(c, applicationPath(id), err, nil)
		return
	}

	res, err := s.service.Approve(c.Request.Context(), actor, id, amountString(req.ApprovedAmount))
	s.respond(c, applicationPath(id), err, func() (gin.H, string) {
		amount := res.Application.ApprovedAmount.StringFixed(2)
		return gin.H{"status": res.Application.Status, "approved_amount": amount},
			fmt.Sprintf("Application approved for %s.", amount)
	})
}

func (s *Server) rejectApplication(c *gin.Context) {
	actor, _ := actorFrom(c)
	id := c.Param("id")

	var req rejectRequest
	if err := s.bind(c, validation.SchemaReject, &req); err != nil {
		s.respond(c, applicationPath(id), err, nil)
		return
	}

	res, err := s.service.Reject(c.Request.Context(), actor, id, req.Reason)
	s.respond(c, applicationPath(id), err, func() (gin.H, string) {
		return gin.H{"status": res.Application.Status, "reason": res.Application.RejectionReason},
			"Application rejected."
	})
}

func (s *Server) updateStatus(c *gin.Context) {
	actor, _ := actorFrom(c)
	id := c.Param("id")

	var req updateStatusRequest
	if err := s.bind(c, validation.SchemaUpdateStatus, &req); err != nil {
		s.respond(c, applicationPath(id), err, nil)
		return
	}

	res, err := s.service.UpdateStatus(c.Request.Context(), actor, id, req.Status, req.Notes)
	s.respond(c, applicationPath(id), err, func() (gin.H, string) {
		return gin.H{"status": res.Application.Status},
			fmt.Sprintf("Status updated to %s.", res.Application.Status.Label())
	})
}

// bind reads a JSON or form body, validates it against the named schema and
// decodes it into dst. An empty body is treated as an empty object.
func (s *Server) bind(c *gin.Context, schema string, dst interface{}) error {
	doc, err := requestDocument(c)
	if err != nil {
		return errors.NewValidationError("(root)", "Request body could not be read")
	}

	result, err := s.validator.Validate(schema, doc)
	if err != nil {
		return err
	}
	if !result.Valid {
		return errors.NewValidationError(result.FirstField(), result.Summary())
	}

	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return errors.NewValidationError("(root)", "Request body has the wrong shape")
	}
	return nil
}

func requestDocument(c *gin.Context) ([]byte, error) {
	if strings.HasPrefix(c.ContentType(), "application/json") {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			return nil, err
		}
		if len(bytes.TrimSpace(body)) == 0 {
			return []byte("{}"), nil
		}
		return body, nil
	}

	if err := c.Request.ParseForm(); err != nil {
		return nil, err
	}
	fields := make(map[string]string, len(c.Request.PostForm))
	for key := range c.Request.PostForm {
		fields[key] = c.Request.PostForm.Get(key)
	}
	return json.Marshal(fields)
}

func amountString(v interface{}) string {
	switch a := v.(type) {
	case nil:
		return ""
	case string:
		return a
	case json.Number:
		return a.String()
	default:
		return fmt.Sprint(a)
	}
}
