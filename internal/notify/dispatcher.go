package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Dispatcher fans an event out to every configured publisher. Each publisher
// gets its own timeout so a slow transport cannot hold up the others.
type Dispatcher struct {
	publishers []Publisher
	timeout    time.Duration
}

func NewDispatcher(timeout time.Duration, publishers ...Publisher) *Dispatcher {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Dispatcher{publishers: publishers, timeout: timeout}
}

func (d *Dispatcher) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range d.publishers {
		pubCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := p.Publish(pubCtx, ev)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", ev.Type, err))
		}
	}
	return errors.Join(errs...)
}

// LogPublisher writes events to the log. It is the only publisher when no
// message broker is configured.
type LogPublisher struct {
	logger *logrus.Logger
}

func NewLogPublisher(logger *logrus.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, ev Event) error {
	p.logger.WithFields(logrus.Fields{
		"event":          ev.Type,
		"appointment_id": ev.AppointmentID,
		"patient_id":     ev.PatientID,
		"doctor_id":      ev.DoctorID,
		"status":         ev.Status,
		"document":       ev.Document,
	}).Info("notification requested")
	return nil
}
