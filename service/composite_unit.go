/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"strings"
	"sync"
)

// CompositeUnit groups several units (e.g. the cache HTTP server and the expired entries cleaner)
// so that the Service can drive them as one.
type CompositeUnit struct {
	Units []Unit
}

// NewCompositeUnit creates a new composite unit.
func NewCompositeUnit(units ...Unit) *CompositeUnit {
	return &CompositeUnit{Units: units}
}

// Start launches all units concurrently and blocks until all of them have returned from Start,
// or until the first of them reports a fatal error.
// In the latter case the rest of the units are stopped non-gracefully, and a CompositeUnitError
// holding the fatal error and the stop errors is sent to the fatalError channel.
func (cu *CompositeUnit) Start(fatalError chan<- error) {
	unitFatalErrs := make(chan error, len(cu.Units))
	allStarted := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(len(cu.Units))
	for _, u := range cu.Units {
		go func(u Unit) {
			defer wg.Done()
			u.Start(unitFatalErrs)
		}(u)
	}
	go func() {
		wg.Wait()
		close(allStarted)
	}()

	var firstErr error
	select {
	case firstErr = <-unitFatalErrs:
	case <-allStarted:
		select {
		case firstErr = <-unitFatalErrs:
		default:
			return
		}
	}

	errs := []error{firstErr}
	if stopErr := cu.Stop(false); stopErr != nil {
		errs = append(errs, stopErr.(*CompositeUnitError).UnitErrors...)
	}
	<-allStarted
	for len(unitFatalErrs) > 0 {
		errs = append(errs, <-unitFatalErrs)
	}
	fatalError <- &CompositeUnitError{UnitErrors: errs}
}

// Stop stops all units concurrently and waits for them.
// Stop errors are collected into a single CompositeUnitError.
func (cu *CompositeUnit) Stop(gracefully bool) error {
	stopErrs := make([]error, len(cu.Units))
	var wg sync.WaitGroup
	wg.Add(len(cu.Units))
	for i, u := range cu.Units {
		go func(i int, u Unit) {
			defer wg.Done()
			stopErrs[i] = u.Stop(gracefully)
		}(i, u)
	}
	wg.Wait()

	var errs []error
	for _, err := range stopErrs {
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return &CompositeUnitError{UnitErrors: errs}
}

// MustRegisterMetrics registers metrics of all units that implement MetricsRegisterer.
func (cu *CompositeUnit) MustRegisterMetrics() {
	for _, u := range cu.Units {
		if mr, ok := u.(MetricsRegisterer); ok {
			mr.MustRegisterMetrics()
		}
	}
}

// UnregisterMetrics unregisters metrics of all units that implement MetricsRegisterer.
func (cu *CompositeUnit) UnregisterMetrics() {
	for _, u := range cu.Units {
		if mr, ok := u.(MetricsRegisterer); ok {
			mr.UnregisterMetrics()
		}
	}
}

// CompositeUnitError is returned by CompositeUnit when one or more of its units fail.
type CompositeUnitError struct {
	UnitErrors []error
}

func (cue *CompositeUnitError) Error() string {
	msgs := make([]string, 0, len(cue.UnitErrors))
	for _, err := range cue.UnitErrors {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Unwrap allows errors.Is and errors.As to look into unit errors.
func (cue *CompositeUnitError) Unwrap() []error {
	return cue.UnitErrors
}
