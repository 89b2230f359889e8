// Package edf writes continuous EDF+ (EDF+C) files with an annotation channel.
//
// Data records are one second long. The record count in the header is written
// as -1 while recording and patched on Close.
package edf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	headerBlock       = 256
	annotationLabel   = "EDF Annotations"
	recordCountOffset = 236
	// timekeepingReserve bounds the record-start TAL for any realistic record index.
	timekeepingReserve = 16
	// DefaultAnnotationSamples is the annotation channel width per record (2 bytes each).
	DefaultAnnotationSamples = 64
)

var (
	ErrNoSignals       = errors.New("edf: at least one signal is required")
	ErrInvalidRate     = errors.New("edf: sample rate must be positive")
	ErrRecordShape     = errors.New("edf: record does not match signal layout")
	ErrClosed          = errors.New("edf: writer closed")
	ErrAnnotationLarge = errors.New("edf: annotation does not fit in one record")
)

// Signal describes one ordinary (non-annotation) channel.
type Signal struct {
	Label      string
	Transducer string
	PhysDim    string
	PhysMin    float64
	PhysMax    float64
	DigMin     int
	DigMax     int
	Prefilter  string
}

// Header holds the file-level fields of an EDF+ file.
type Header struct {
	// Patient is the EDF+ patient field: code, sex, birthdate, name.
	Patient string
	// Recording is appended to "Startdate dd-MMM-yyyy".
	Recording  string
	Start      time.Time
	SampleRate int
	Signals    []Signal
	// AnnotationSamples overrides DefaultAnnotationSamples when positive.
	AnnotationSamples int
}

type annotation struct {
	onset float64
	text  string
}

// Writer streams data records to an EDF+C file.
type Writer struct {
	mu       sync.Mutex
	w        io.WriteSeeker
	hdr      Header
	annBytes int
	records  int
	pending  []annotation
	closed   bool
}

// NewWriter writes the header and returns a Writer ready for records.
func NewWriter(w io.WriteSeeker, hdr Header) (*Writer, error) {
	if len(hdr.Signals) == 0 {
		return nil, ErrNoSignals
	}
	if hdr.SampleRate <= 0 {
		return nil, ErrInvalidRate
	}
	if hdr.AnnotationSamples <= 0 {
		hdr.AnnotationSamples = DefaultAnnotationSamples
	}
	wr := &Writer{w: w, hdr: hdr, annBytes: hdr.AnnotationSamples * 2}
	if _, err := w.Write(wr.encodeHeader(-1)); err != nil {
		return nil, fmt.Errorf("edf: write header: %w", err)
	}
	slog.Debug("EDF writer created", "signals", len(hdr.Signals), "sample_rate", hdr.SampleRate)
	return wr, nil
}

// Annotate queues a text annotation at onset seconds from the file start.
// It is written into the next data record with room for it.
func (wr *Writer) Annotate(onset time.Duration, text string) error {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	if wr.closed {
		return ErrClosed
	}
	a := annotation{onset: onset.Seconds(), text: text}
	if len(tal(a.onset, a.text))+timekeepingReserve > wr.annBytes {
		return ErrAnnotationLarge
	}
	wr.pending = append(wr.pending, a)
	return nil
}

// WriteRecord writes one second of samples: one slice per signal, SampleRate long each.
func (wr *Writer) WriteRecord(samples [][]int16) error {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	if wr.closed {
		return ErrClosed
	}
	if len(samples) != len(wr.hdr.Signals) {
		return fmt.Errorf("%w: %d channels, want %d", ErrRecordShape, len(samples), len(wr.hdr.Signals))
	}
	for i, ch := range samples {
		if len(ch) != wr.hdr.SampleRate {
			return fmt.Errorf("%w: channel %d has %d samples, want %d", ErrRecordShape, i, len(ch), wr.hdr.SampleRate)
		}
	}
	return wr.writeRecordLocked(samples)
}

// WriteFinal writes the trailing partial record. Every signal must carry the same
// number of samples, at most SampleRate; the remainder of the record is zero-filled.
// An empty block writes nothing.
func (wr *Writer) WriteFinal(samples [][]int16) error {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	if wr.closed {
		return ErrClosed
	}
	if len(samples) != len(wr.hdr.Signals) {
		return fmt.Errorf("%w: %d channels, want %d", ErrRecordShape, len(samples), len(wr.hdr.Signals))
	}
	n := len(samples[0])
	for i, ch := range samples {
		if len(ch) != n || n > wr.hdr.SampleRate {
			return fmt.Errorf("%w: channel %d has %d samples in the final record", ErrRecordShape, i, len(ch))
		}
	}
	if n == 0 {
		return nil
	}
	padded := make([][]int16, len(samples))
	for i, ch := range samples {
		padded[i] = make([]int16, wr.hdr.SampleRate)
		copy(padded[i], ch)
	}
	slog.Debug("EDF final partial record", "samples", n, "padding", wr.hdr.SampleRate-n)
	return wr.writeRecordLocked(padded)
}

func (wr *Writer) writeRecordLocked(samples [][]int16) error {
	var buf bytes.Buffer
	for _, ch := range samples {
		if err := binary.Write(&buf, binary.LittleEndian, ch); err != nil {
			return err
		}
	}
	buf.Write(wr.annotationBlock(float64(wr.records)))
	if _, err := wr.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("edf: write record %d: %w", wr.records, err)
	}
	wr.records++
	return nil
}

// annotationBlock builds the annotation channel bytes for the record starting at
// start seconds, draining as many pending annotations as fit.
func (wr *Writer) annotationBlock(start float64) []byte {
	block := make([]byte, 0, wr.annBytes)
	block = append(block, timekeeping(start)...)
	n := 0
	for _, a := range wr.pending {
		t := tal(a.onset, a.text)
		if len(block)+len(t) > wr.annBytes {
			break
		}
		block = append(block, t...)
		n++
	}
	wr.pending = wr.pending[n:]
	for len(block) < wr.annBytes {
		block = append(block, 0)
	}
	return block
}

// Records returns the number of data records written so far.
func (wr *Writer) Records() int {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	return wr.records
}

// Close writes annotations still queued into zero-filled records, patches the record count
// and closes the underlying writer when it is an io.Closer.
func (wr *Writer) Close() error {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	if wr.closed {
		return nil
	}
	wr.closed = true

	zero := make([][]int16, len(wr.hdr.Signals))
	for i := range zero {
		zero[i] = make([]int16, wr.hdr.SampleRate)
	}
	for len(wr.pending) > 0 {
		before := len(wr.pending)
		if err := wr.writeRecordLocked(zero); err != nil {
			return err
		}
		if len(wr.pending) == before {
			slog.Warn("EDF dropping annotations that do not fit", "count", before)
			wr.pending = nil
		}
	}

	if _, err := wr.w.Seek(recordCountOffset, io.SeekStart); err != nil {
		return fmt.Errorf("edf: seek to record count: %w", err)
	}
	if _, err := wr.w.Write([]byte(field(strconv.Itoa(wr.records), 8))); err != nil {
		return fmt.Errorf("edf: patch record count: %w", err)
	}
	if _, err := wr.w.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	slog.Debug("EDF writer closed", "records", wr.records)
	if c, ok := wr.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (wr *Writer) encodeHeader(records int) []byte {
	h := wr.hdr
	ns := len(h.Signals) + 1
	start := h.Start
	var b strings.Builder

	patient := h.Patient
	if patient == "" {
		patient = "X X X X"
	}
	b.WriteString(field("0", 8))
	b.WriteString(field(patient, 80))
	b.WriteString(field(fmt.Sprintf("Startdate %s %s", strings.ToUpper(start.Format("02-Jan-2006")), orX(h.Recording)), 80))
	b.WriteString(field(start.Format("02.01.06"), 8))
	b.WriteString(field(start.Format("15.04.05"), 8))
	b.WriteString(field(strconv.Itoa(headerBlock*(ns+1)), 8))
	b.WriteString(field("EDF+C", 44))
	b.WriteString(field(strconv.Itoa(records), 8))
	b.WriteString(field("1", 8))
	b.WriteString(field(strconv.Itoa(ns), 4))

	each := func(width int, ordinary func(Signal) string, ann string) {
		for _, s := range h.Signals {
			b.WriteString(field(ordinary(s), width))
		}
		b.WriteString(field(ann, width))
	}
	each(16, func(s Signal) string { return s.Label }, annotationLabel)
	each(80, func(s Signal) string { return s.Transducer }, "")
	each(8, func(s Signal) string { return s.PhysDim }, "")
	each(8, func(s Signal) string { return formatNumber(s.PhysMin) }, "-1")
	each(8, func(s Signal) string { return formatNumber(s.PhysMax) }, "1")
	each(8, func(s Signal) string { return strconv.Itoa(s.DigMin) }, "-32768")
	each(8, func(s Signal) string { return strconv.Itoa(s.DigMax) }, "32767")
	each(80, func(s Signal) string { return s.Prefilter }, "")
	each(8, func(Signal) string { return strconv.Itoa(h.SampleRate) }, strconv.Itoa(h.AnnotationSamples))
	each(32, func(Signal) string { return "" }, "")

	return []byte(b.String())
}

// timekeeping returns the record-start TAL that opens every annotation block.
func timekeeping(start float64) []byte {
	return []byte("+" + formatOnset(start) + "\x14\x14\x00")
}

func tal(onset float64, text string) []byte {
	return []byte("+" + formatOnset(onset) + "\x14" + text + "\x14\x00")
}

func formatOnset(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatNumber(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if len(s) > 8 {
		s = s[:8]
	}
	return s
}

func orX(s string) string {
	if s == "" {
		return "X X X"
	}
	return s
}

// field pads or truncates s to exactly n ASCII bytes.
func field(s string, n int) string {
	if len(s) >= n {
		return s[:n]
	}
	return s + strings.Repeat(" ", n-len(s))
}
