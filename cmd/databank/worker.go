package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/neurocohort/databank/pkg/classifier"
	"github.com/neurocohort/databank/pkg/common/kafka"
	"github.com/neurocohort/databank/pkg/common/logger"
	"github.com/neurocohort/databank/pkg/common/models"
	"github.com/neurocohort/databank/pkg/conformance"
)

var errInvalidRequest = errors.New("invalid check request")

func workerCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Validate archives named by check requests on the work topic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runWorker(cmd.Context())
		},
	}
}

func (a *App) runWorker(ctx context.Context) error {
	if !a.cfg.KafkaEnabled() {
		return errors.New("no Kafka broker configured (KAFKA_BROKERS)")
	}
	validator, err := a.newValidator()
	if err != nil {
		return err
	}

	producer := a.producer()
	defer producer.Close()
	consumer := kafka.NewConsumer(a.cfg.KafkaBrokers, a.cfg.KafkaWorkTopic, a.cfg.KafkaGroupID)
	defer consumer.Close()

	logger.WithField("topic", a.cfg.KafkaWorkTopic).Info("worker started")
	err = consumer.Consume(ctx, func(ctx context.Context, event models.Event) error {
		return a.handleCheckRequest(ctx, validator, producer, event)
	})
	if errors.Is(err, context.Canceled) {
		logger.WithField("topic", a.cfg.KafkaWorkTopic).Info("worker stopped")
		return nil
	}
	return err
}

func (a *App) handleCheckRequest(ctx context.Context, validator *conformance.Validator, producer *kafka.Producer, event models.Event) error {
	if event.Type != kafka.EventCheckRequest {
		return nil
	}
	request, err := requestFromEvent(event)
	if err != nil {
		return err
	}
	result, err := a.checkArchive(validator, request)
	if err != nil {
		return err
	}
	a.flushMetrics()
	return producer.PublishResult(ctx, kafka.EventCheckResult, result.Archive, result)
}

// requestFromEvent decodes a check request. Only the path is mandatory.
func requestFromEvent(event models.Event) (checkRequest, error) {
	var r checkRequest
	path, _ := event.Data["path"].(string)
	if path == "" {
		return r, fmt.Errorf("%w: missing path", errInvalidRequest)
	}
	r.Path = path
	if timepoint, ok := event.Data["timepoint"].(string); ok {
		r.Timepoint = strings.ToUpper(timepoint)
	}
	if imaging, ok := event.Data["imaging"].(bool); ok {
		r.Imaging = imaging
	}
	if date, ok := event.Data["acquisition_date"].(string); ok && date != "" {
		t, err := time.Parse("2006-01-02", date)
		if err != nil {
			return r, fmt.Errorf("%w: acquisition_date: %v", errInvalidRequest, err)
		}
		r.AcquisitionDate = t
	}
	if tasks, ok := event.Data["tasks"].([]interface{}); ok {
		for _, task := range tasks {
			if s, ok := task.(string); ok {
				r.Tasks = append(r.Tasks, classifier.FileType(strings.ToLower(s)))
			}
		}
	}
	return r, nil
}
