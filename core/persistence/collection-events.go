package persistence

import (
	"context"
	"time"

	"github.com/asaidimu/go-anansi-schema/core/schema"
	"go.uber.org/zap"
)

// emitEvent publishes event on the controller bus.
func (p *Persistence) emitEvent(event PersistenceEvent) {
	if p.bus != nil {
		p.bus.Emit(string(event.Type), event)
	}
}

func (p *Persistence) emitStart(operation string, eventType PersistenceEventType, className string, input any) time.Time {
	startTime := time.Now()
	p.emitEvent(createEvent(eventType, operation, className, input, nil, nil, nil, startTime))
	return startTime
}

// emitResult records the outcome of a class operation as a metric, a log
// entry on failure and a success or failed event.
func (p *Persistence) emitResult(
	operation string,
	successEventType PersistenceEventType,
	failedEventType PersistenceEventType,
	className string,
	input any,
	output *schema.ClassSchema,
	err error,
	startTime time.Time,
) {
	schemaMutations.WithLabelValues(operation, resultLabel(err)).Inc()
	schemaMutationDuration.WithLabelValues(operation).Observe(time.Since(startTime).Seconds())

	if err != nil {
		p.logger.Debug("class operation rejected",
			zap.String("operation", operation),
			zap.String("class", className),
			zap.Error(err))
		p.emitEvent(createEvent(failedEventType, operation, className, input, nil, nil, err, startTime))
		return
	}
	var out any
	if output != nil {
		out = output.Clone()
	}
	p.emitEvent(createEvent(successEventType, operation, className, input, out, nil, nil, startTime))
}

// withClassEvents wraps a class operation with start, success and failure
// events. Success is only reported after the store commit and cache refresh
// inside fn have completed.
func (p *Persistence) withClassEvents(
	ctx context.Context,
	operation string,
	startEventType PersistenceEventType,
	successEventType PersistenceEventType,
	failedEventType PersistenceEventType,
	className string,
	input any,
	fn func() (*schema.ClassSchema, error),
) (*schema.ClassSchema, error) {
	startTime := p.emitStart(operation, startEventType, className, input)

	if err := ctx.Err(); err != nil {
		p.emitResult(operation, successEventType, failedEventType, className, input, nil, err, startTime)
		return nil, err
	}

	result, err := fn()
	p.emitResult(operation, successEventType, failedEventType, className, input, result, err, startTime)
	if err != nil {
		return nil, err
	}
	return result.Clone(), nil
}
