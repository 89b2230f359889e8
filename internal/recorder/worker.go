package recorder

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Task is the device-specific part of a recorder.
type Task interface {
	// Open connects to the device and prepares output. Failure aborts Start.
	Open(ctx context.Context, saveAs string) error
	// Run acquires data until ctx is cancelled and releases what Open acquired.
	Run(ctx context.Context) error
	// Annotate is called for every annotation added after Open succeeded.
	Annotate(a Annotation)
}

// Worker implements the Recorder lifecycle around a Task.
type Worker struct {
	name string
	task Task
	now  func() time.Time

	mu          sync.Mutex
	saveAs      string
	annotations []Annotation
	started     bool
	stopped     bool
	startedAt   time.Time
	cancel      context.CancelFunc
	done        chan struct{}
	err         error
}

// NewWorker creates a Worker that drives task under the given recorder name.
func NewWorker(name string, task Task) *Worker {
	return &Worker{name: name, task: task, now: time.Now}
}

var _ Recorder = (*Worker)(nil)

func (w *Worker) Name() string { return w.name }

func (w *Worker) SetSaveAs(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.saveAs = path
}

func (w *Worker) SaveAs() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.saveAs
}

// Start opens the task synchronously and then runs it on a background goroutine.
func (w *Worker) Start() error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return ErrAlreadyStarted
	}
	saveAs := w.saveAs
	w.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	slog.Debug("Recorder starting", "recorder", w.name, "save_as", saveAs)
	if err := w.task.Open(ctx, saveAs); err != nil {
		cancel()
		slog.Error("Recorder failed to open", "recorder", w.name, "error", err)
		return &StartError{Recorder: w.name, Cause: err}
	}

	done := make(chan struct{})
	w.mu.Lock()
	w.started = true
	w.startedAt = w.now()
	w.cancel = cancel
	w.done = done
	w.mu.Unlock()

	go func() {
		defer close(done)
		err := w.task.Run(ctx)
		if err != nil {
			slog.Error("Recorder worker exited with error", "recorder", w.name, "error", err)
		} else {
			slog.Debug("Recorder worker exited", "recorder", w.name)
		}
		w.mu.Lock()
		w.err = err
		w.mu.Unlock()
	}()
	slog.Info("Recorder started", "recorder", w.name)
	return nil
}

// Stop signals the worker to finish. Repeated calls have no further effect.
func (w *Worker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return ErrNotStarted
	}
	if w.stopped {
		return nil
	}
	w.stopped = true
	w.cancel()
	slog.Debug("Recorder stop requested", "recorder", w.name)
	return nil
}

// Join blocks until the worker has exited and returns its error.
func (w *Worker) Join() error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return ErrNotStarted
	}
	done := w.done
	w.mu.Unlock()

	<-done

	w.mu.Lock()
	defer w.mu.Unlock()
	slog.Debug("Recorder joined", "recorder", w.name)
	return w.err
}

// AddAnnotation appends label to the annotation log stamped with its onset.
func (w *Worker) AddAnnotation(label string) {
	w.mu.Lock()
	a := Annotation{Label: label}
	if w.started {
		a.Onset = w.now().Sub(w.startedAt)
	}
	w.annotations = append(w.annotations, a)
	forward := w.started && !w.stopped
	w.mu.Unlock()

	if forward {
		w.task.Annotate(a)
	}
}

func (w *Worker) Annotations() []Annotation {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Annotation(nil), w.annotations...)
}
