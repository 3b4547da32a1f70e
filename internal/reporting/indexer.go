// Package reporting mirrors application state into Elasticsearch for
// external reporting tools. It never feeds back into the workflow.
package reporting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"consulting-crm/internal/common/errors"
	"consulting-crm/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

const indexMapping = `{
  "mappings": {
    "properties": {
      "applicationId":   {"type": "keyword"},
      "status":          {"type": "keyword"},
      "clientId":        {"type": "keyword"},
      "clientName":      {"type": "text", "fields": {"raw": {"type": "keyword"}}},
      "assignedTo":      {"type": "keyword"},
      "schemeId":        {"type": "keyword"},
      "appliedAmount":   {"type": "scaled_float", "scaling_factor": 100},
      "approvedAmount":  {"type": "scaled_float", "scaling_factor": 100},
      "submissionDate":  {"type": "date"},
      "approvalDate":    {"type": "date"},
      "rejectionDate":   {"type": "date"},
      "timelineLength":  {"type": "integer"},
      "lastNote":        {"type": "text"},
      "version":         {"type": "long"},
      "updatedAt":       {"type": "date"}
    }
  }
}`

// Document is the indexed shape of an application. Amounts are strings
// so no precision is lost on the way in.
type Document struct {
	ApplicationID  string     `json:"applicationId"`
	Status         string     `json:"status"`
	ClientID       string     `json:"clientId"`
	ClientName     string     `json:"clientName"`
	AssignedTo     string     `json:"assignedTo"`
	SchemeID       string     `json:"schemeId,omitempty"`
	AppliedAmount  string     `json:"appliedAmount"`
	ApprovedAmount string     `json:"approvedAmount,omitempty"`
	SubmissionDate *time.Time `json:"submissionDate,omitempty"`
	ApprovalDate   *time.Time `json:"approvalDate,omitempty"`
	RejectionDate  *time.Time `json:"rejectionDate,omitempty"`
	TimelineLength int        `json:"timelineLength"`
	LastNote       string     `json:"lastNote,omitempty"`
	Version        int64      `json:"version"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

func NewDocument(app models.Application) Document {
	doc := Document{
		ApplicationID:  app.ApplicationID,
		Status:         string(app.Status),
		ClientID:       app.Client.ID,
		ClientName:     app.Client.Name,
		AssignedTo:     app.AssignedTo,
		SchemeID:       app.SchemeID,
		AppliedAmount:  app.AppliedAmount.String(),
		SubmissionDate: app.SubmissionDate,
		ApprovalDate:   app.ApprovalDate,
		RejectionDate:  app.RejectionDate,
		TimelineLength: app.Timeline.Len(),
		Version:        app.Version,
		UpdatedAt:      app.UpdatedAt,
	}
	if app.ApprovedAmount != nil {
		doc.ApprovedAmount = app.ApprovedAmount.String()
	}
	if last, ok := app.Timeline.Last(); ok {
		doc.LastNote = last.Note
	}
	return doc
}

type Indexer struct {
	client *elasticsearch.Client
	index  string
}

func NewIndexer(client *elasticsearch.Client, index string) *Indexer {
	if index == "" {
		index = "applications"
	}
	return &Indexer{client: client, index: index}
}

// EnsureIndex creates the index with its mapping when it does not exist yet.
func (i *Indexer) EnsureIndex(ctx context.Context) error {
	res, err := esapi.IndicesExistsRequest{Index: []string{i.index}}.Do(ctx, i.client)
	if err != nil {
		return errors.NewIndexingFailedError(i.index, err)
	}
	res.Body.Close()
	if res.StatusCode == 200 {
		return nil
	}

	res, err = esapi.IndicesCreateRequest{
		Index: i.index,
		Body:  strings.NewReader(indexMapping),
	}.Do(ctx, i.client)
	if err != nil {
		return errors.NewIndexingFailedError(i.index, err)
	}
	defer res.Body.Close()

	if res.IsError() && !strings.Contains(readBody(res.Body), "resource_already_exists_exception") {
		return errors.NewIndexingFailedError(i.index, fmt.Errorf("create index: %s", res.Status()))
	}
	return nil
}

// IndexApplication upserts the application document keyed by its ID.
func (i *Indexer) IndexApplication(ctx context.Context, app models.Application) error {
	body, err := json.Marshal(NewDocument(app))
	if err != nil {
		return errors.NewIndexingFailedError(i.index, err)
	}

	res, err := esapi.IndexRequest{
		Index:      i.index,
		DocumentID: app.ApplicationID,
		Body:       bytes.NewReader(body),
	}.Do(ctx, i.client)
	if err != nil {
		return errors.NewIndexingFailedError(i.index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return errors.NewIndexingFailedError(i.index, fmt.Errorf("index %s: %s %s", app.ApplicationID, res.Status(), readBody(res.Body)))
	}
	return nil
}

func readBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 4096))
	return string(b)
}
