package persistence

import (
	"time"

	"github.com/asaidimu/go-anansi-schema/core"
)

func createEvent(
	eventType PersistenceEventType,
	operation string,
	className string,
	input any,
	output any,
	query any,
	err error,
	startTime time.Time,
) PersistenceEvent {
	var duration *int64
	if !startTime.IsZero() {
		d := time.Since(startTime).Milliseconds()
		duration = &d
	}

	event := PersistenceEvent{
		Type:       eventType,
		Timestamp:  time.Now().UnixMilli(),
		Operation:  operation,
		Collection: &className,
		Input:      input,
		Output:     output,
		Query:      query,
		Duration:   duration,
	}
	if err != nil {
		event.Error = core.StringPtr(err.Error())
		code := core.CodeInternal
		if e, ok := core.AsError(err); ok {
			code = e.Code
		}
		event.Code = core.IntPtr(code)
	}
	return event
}

func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	if e, ok := core.AsError(err); ok {
		return string(e.Kind)
	}
	return "error"
}
