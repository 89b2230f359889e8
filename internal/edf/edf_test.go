package edf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testHeader() Header {
	return Header{
		Patient:           "007 F X X",
		Start:             time.Date(2024, 3, 1, 9, 5, 7, 0, time.UTC),
		SampleRate:        4,
		AnnotationSamples: 32,
		Signals: []Signal{
			{Label: "EMG1", PhysDim: "uV", PhysMin: -3276.8, PhysMax: 3276.7, DigMin: -32768, DigMax: 32767},
			{Label: "EMG2", PhysDim: "uV", PhysMin: -3276.8, PhysMax: 3276.7, DigMin: -32768, DigMax: 32767},
		},
	}
}

func record(v int16) [][]int16 {
	return [][]int16{{v, v, v, v}, {-v, -v, -v, -v}}
}

func TestWriterLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.edf")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	w, err := NewWriter(f, testHeader())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.Annotate(500*time.Millisecond, "start_fist"); err != nil {
		t.Fatalf("Annotate: %v", err)
	}
	if err := w.WriteRecord(record(1)); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}
	if err := w.WriteRecord(record(2)); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	const headerLen = 256 * 4
	const recordLen = 2*4*2 + 64
	if len(data) != headerLen+2*recordLen {
		t.Fatalf("file size = %d, want %d", len(data), headerLen+2*recordLen)
	}
	if got := strings.TrimSpace(string(data[236:244])); got != "2" {
		t.Errorf("record count = %q, want 2", got)
	}
	if got := strings.TrimSpace(string(data[192:236])); got != "EDF+C" {
		t.Errorf("reserved = %q, want EDF+C", got)
	}
	if got := strings.TrimSpace(string(data[184:192])); got != "1024" {
		t.Errorf("header bytes = %q, want 1024", got)
	}
	if !strings.Contains(string(data[88:168]), "Startdate 01-MAR-2024") {
		t.Errorf("recording field = %q", string(data[88:168]))
	}
	if !bytes.Contains(data[256:headerLen], []byte(annotationLabel)) {
		t.Error("annotation signal label missing")
	}

	firstAnn := data[headerLen+16 : headerLen+recordLen]
	if !bytes.HasPrefix(firstAnn, []byte("+0\x14\x14\x00")) {
		t.Errorf("first record time-keeping TAL = %q", firstAnn[:8])
	}
	if !bytes.Contains(firstAnn, []byte("+0.5\x14start_fist\x14\x00")) {
		t.Errorf("annotation not found in first record: %q", firstAnn)
	}
	secondAnn := data[headerLen+recordLen+16:]
	if !bytes.HasPrefix(secondAnn, []byte("+1\x14\x14\x00")) {
		t.Errorf("second record time-keeping TAL = %q", secondAnn[:8])
	}
}

func TestWriterFlushesPendingAnnotationsOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flush.edf")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	w, err := NewWriter(f, testHeader())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.WriteRecord(record(3)); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}
	if err := w.Annotate(1200*time.Millisecond, "end_experiment"); err != nil {
		t.Fatalf("Annotate: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if w.Records() != 2 {
		t.Errorf("Records() = %d, want 2", w.Records())
	}
	data, _ := os.ReadFile(path)
	if !bytes.Contains(data, []byte("end_experiment")) {
		t.Error("pending annotation was not flushed")
	}
	if err := w.WriteRecord(record(1)); !errors.Is(err, ErrClosed) {
		t.Errorf("WriteRecord after Close = %v, want ErrClosed", err)
	}
}

func TestWriterFinalPartialRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tail.edf")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	w, err := NewWriter(f, testHeader())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.WriteRecord(record(1)); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}
	if err := w.Annotate(1200*time.Millisecond, "end_experiment"); err != nil {
		t.Fatalf("Annotate: %v", err)
	}
	if err := w.WriteFinal([][]int16{{5, 6}, {-5, -6}}); err != nil {
		t.Fatalf("WriteFinal: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if w.Records() != 2 {
		t.Fatalf("Records() = %d, want 2", w.Records())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	const headerLen = 256 * 4
	const recordLen = 2*4*2 + 64
	tail := data[headerLen+recordLen:]
	want := []int16{5, 6, 0, 0, -5, -6, 0, 0}
	for i, v := range want {
		got := int16(binary.LittleEndian.Uint16(tail[2*i:]))
		if got != v {
			t.Errorf("tail sample %d = %d, want %d", i, got, v)
		}
	}
	if !bytes.Contains(tail[16:], []byte("end_experiment")) {
		t.Error("end_experiment not written into the final data record")
	}
}

func TestWriterFinalRejectsBadShape(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "shape.edf"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	w, err := NewWriter(f, testHeader())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	if err := w.WriteFinal([][]int16{{1, 2}, {1}}); !errors.Is(err, ErrRecordShape) {
		t.Errorf("uneven channels: got %v, want ErrRecordShape", err)
	}
	if err := w.WriteFinal([][]int16{{1, 2, 3, 4, 5}, {1, 2, 3, 4, 5}}); !errors.Is(err, ErrRecordShape) {
		t.Errorf("oversized block: got %v, want ErrRecordShape", err)
	}
	if err := w.WriteFinal([][]int16{{}, {}}); err != nil {
		t.Errorf("empty block: %v", err)
	}
	if w.Records() != 0 {
		t.Errorf("Records() = %d, want 0", w.Records())
	}
}

func TestWriterRejectsBadInput(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "bad.edf"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	if _, err := NewWriter(f, Header{SampleRate: 1}); !errors.Is(err, ErrNoSignals) {
		t.Errorf("expected ErrNoSignals, got %v", err)
	}
	w, err := NewWriter(f, testHeader())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.WriteRecord([][]int16{{1, 2, 3, 4}}); !errors.Is(err, ErrRecordShape) {
		t.Errorf("expected ErrRecordShape, got %v", err)
	}
	if err := w.Annotate(0, strings.Repeat("x", 80)); !errors.Is(err, ErrAnnotationLarge) {
		t.Errorf("expected ErrAnnotationLarge, got %v", err)
	}
}
