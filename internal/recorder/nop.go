package recorder

import (
	"context"
	"log/slog"
)

// nopTask acquires nothing and idles until stopped.
type nopTask struct {
	name string
}

func (t nopTask) Open(ctx context.Context, saveAs string) error {
	slog.Debug("Dry-run recorder opened", "recorder", t.name, "save_as", saveAs)
	return nil
}

func (t nopTask) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (nopTask) Annotate(Annotation) {}

// NewNop returns a recorder with full lifecycle bookkeeping that records no data.
// It stands in for real devices during dry runs and when a device is unavailable.
func NewNop(name string) *Worker {
	return NewWorker(name, nopTask{name: name})
}
