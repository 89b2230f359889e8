package recorder

import (
	"context"
	"errors"
	"testing"
	"time"
)

type failingTask struct{ err error }

func (f failingTask) Open(context.Context, string) error { return f.err }
func (failingTask) Run(ctx context.Context) error        { <-ctx.Done(); return nil }
func (failingTask) Annotate(Annotation)                  {}

type erroringRunTask struct{ err error }

func (erroringRunTask) Open(context.Context, string) error { return nil }
func (e erroringRunTask) Run(ctx context.Context) error {
	<-ctx.Done()
	return e.err
}
func (erroringRunTask) Annotate(Annotation) {}

func TestWorkerLifecycle(t *testing.T) {
	w := NewNop("dry")
	w.SetSaveAs("/tmp/ignored.edf")
	if w.SaveAs() != "/tmp/ignored.edf" {
		t.Errorf("SaveAs() = %q", w.SaveAs())
	}

	if err := w.Stop(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Stop before Start = %v, want ErrNotStarted", err)
	}
	if err := w.Join(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Join before Start = %v, want ErrNotStarted", err)
	}

	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := w.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}

	w.AddAnnotation("start_fist")
	w.AddAnnotation("end_fist")

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("repeated Stop: %v", err)
	}

	joined := make(chan error, 1)
	go func() { joined <- w.Join() }()
	select {
	case err := <-joined:
		if err != nil {
			t.Errorf("Join: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Join did not return after Stop")
	}

	anns := w.Annotations()
	if len(anns) != 2 || anns[0].Label != "start_fist" || anns[1].Label != "end_fist" {
		t.Errorf("Annotations() = %+v", anns)
	}
	if anns[1].Onset < anns[0].Onset {
		t.Error("annotation onsets are not monotonic")
	}
}

func TestWorkerStartFailure(t *testing.T) {
	cause := errors.New("device offline")
	w := NewWorker("emg", failingTask{err: cause})
	err := w.Start()
	var se *StartError
	if !errors.As(err, &se) {
		t.Fatalf("expected StartError, got %v", err)
	}
	if se.Recorder != "emg" || !errors.Is(err, cause) {
		t.Errorf("StartError = %+v", se)
	}
	if err := w.Stop(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Stop after failed Start = %v", err)
	}
}

func TestWorkerJoinReturnsRunError(t *testing.T) {
	cause := errors.New("disk full")
	w := NewWorker("leap", erroringRunTask{err: cause})
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	w.Stop()
	if err := w.Join(); !errors.Is(err, cause) {
		t.Errorf("Join = %v, want %v", err, cause)
	}
}
