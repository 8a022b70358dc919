package flume

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Dispatcher routes each record to every sink whose minimum level admits
// it. Sinks are visited in configuration order and one sink's failure never
// suppresses delivery to the others: each error is captured, reported
// through the error handler, and collected into the returned error.
type Dispatcher struct {
	sinks     []Sink
	threshold Level // least restrictive sink level, possibly raised by a ceiling
	onError   ErrorHandler
}

// Sinks returns the ordered sink list. The slice is read-only for the
// lifetime of the pipeline.
func (d *Dispatcher) Sinks() []Sink { return d.sinks }

// Threshold returns the level below which records are discarded without
// visiting any sink.
func (d *Dispatcher) Threshold() Level { return d.threshold }

// Dispatch delivers rec to every admitting sink. It returns the combined
// per-sink errors, or nil when every admitting sink accepted the write.
func (d *Dispatcher) Dispatch(rec *Record) error {
	if rec.Level < d.threshold {
		return nil
	}
	var result *multierror.Error
	for _, s := range d.sinks {
		if rec.Level < s.Level() {
			continue
		}
		if err := s.Write(rec); err != nil {
			wrapped := errors.Wrapf(err, "sink %s", s.Name())
			if d.onError != nil {
				d.onError(s.Name(), err)
			}
			result = multierror.Append(result, wrapped)
		}
	}
	return result.ErrorOrNil()
}

// Flush flushes every sink, reporting failures without stopping.
func (d *Dispatcher) Flush() {
	for _, s := range d.sinks {
		if err := s.Flush(); err != nil && d.onError != nil {
			d.onError(s.Name(), err)
		}
	}
}
