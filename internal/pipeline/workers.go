package pipeline

import (
	"context"
	"sync"
)

// Workers runs the state writers and alert publishers as one supervised
// service.
type Workers struct {
	stateWriters    int
	alertPublishers int
	newStateWriter  func() *StateWriter
	newPublisher    func() *AlertPublisher
}

func NewWorkers(d *Dispatcher, cache LiveStateWriter, pub Publisher, stateWriters, alertPublishers int) *Workers {
	return &Workers{
		stateWriters:    stateWriters,
		alertPublishers: alertPublishers,
		newStateWriter: func() *StateWriter {
			sw := NewStateWriter(d.StateChan, cache)
			sw.stale = d.Stale
			return sw
		},
		newPublisher: func() *AlertPublisher { return NewAlertPublisher(d.AlertChan, pub) },
	}
}

func (w *Workers) Serve(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < w.stateWriters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.newStateWriter().Run(ctx)
		}()
	}
	for i := 0; i < w.alertPublishers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.newPublisher().Run(ctx)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (w *Workers) String() string { return "pipeline-workers" }
