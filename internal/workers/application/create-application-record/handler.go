package createapplicationrecord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"consulting-crm/internal/common/errors"
	"consulting-crm/internal/common/logger"
	"consulting-crm/internal/common/metrics"
	"consulting-crm/internal/common/validation"
	"consulting-crm/internal/models"
	"consulting-crm/internal/workflow"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "create-application-record"
)

// Creator is satisfied by *workflow.Service.
type Creator interface {
	ResolveActor(ctx context.Context, id string) (models.Actor, error)
	CreateFromBooking(ctx context.Context, actor models.Actor, in workflow.CreateInput) (workflow.Result, error)
}

type Handler struct {
	config       *Config
	creator      Creator
	validator    *validation.Validator
	logger       logger.Logger
	errorHandler *errors.ErrorHandler
}

func NewHandler(config *Config, creator Creator, validator *validation.Validator, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		creator:      creator,
		validator:    validator,
		logger:       log,
		errorHandler: errors.NewErrorHandler(log),
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) error {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	input, err := h.parseInput([]byte(job.Variables))
	if err != nil {
		h.failJob(ctx, client, job, err)
		return err
	}

	output, err := h.execute(ctx, input)
	if err != nil {
		h.failJob(ctx, client, job, err)
		return err
	}

	h.completeJob(ctx, client, job, output)
	return nil
}

func (h *Handler) parseInput(variables []byte) (*Input, error) {
	result, err := h.validator.Validate(validation.SchemaCreateRecord, variables)
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		return nil, errors.NewValidationError(result.FirstField(), result.Summary())
	}

	dec := json.NewDecoder(bytes.NewReader(variables))
	dec.UseNumber()
	var input Input
	if err := dec.Decode(&input); err != nil {
		return nil, errors.NewValidationError("variables", fmt.Sprintf("parse input: %v", err))
	}
	return &input, nil
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	actor, err := h.creator.ResolveActor(ctx, input.ActorID)
	if err != nil {
		return nil, err
	}

	amount := ""
	switch a := input.AppliedAmount.(type) {
	case string:
		amount = a
	case json.Number:
		amount = a.String()
	case nil:
	default:
		amount = fmt.Sprint(a)
	}

	res, err := h.creator.CreateFromBooking(ctx, actor, workflow.CreateInput{
		BookingID:     input.BookingID,
		SchemeID:      input.SchemeID,
		AppliedAmount: amount,
		Notes:         input.Notes,
	})
	if err != nil {
		return nil, err
	}

	app := res.Application
	h.logger.Info("application record created", map[string]interface{}{
		"applicationId": app.ApplicationID,
		"bookingId":     input.BookingID,
		"assignedTo":    app.AssignedTo,
	})

	return &Output{
		ApplicationID:     app.ApplicationID,
		ApplicationStatus: string(app.Status),
		AssignedTo:        app.AssignedTo,
		CreatedAt:         app.CreatedAt.UTC().Format(time.RFC3339),
	}, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err,
		})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err,
		})
		return
	}
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	h.logger.Info("job completed successfully", map[string]interface{}{
		"jobKey": job.Key,
	})
}

func (h *Handler) failJob(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.CodeOf(err))).Inc()
	h.errorHandler.HandleJobError(ctx, client, job, err)
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}

func (h *Handler) ParseInput(variables string) (*Input, error) {
	return h.parseInput([]byte(variables))
}
