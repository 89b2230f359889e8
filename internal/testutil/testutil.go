// Package testutil provides common helpers for session and journal tests.
package testutil

import (
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/models"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/store"
)

// WriteStimuli writes one small PNG per gesture ID into dir and returns dir.
func WriteStimuli(t *testing.T, dir string, ids ...string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("failed to create stimulus dir: %v", err)
	}
	for i, id := range ids {
		img := image.NewRGBA(image.Rect(0, 0, 16, 12))
		img.Set(0, 0, color.RGBA{R: uint8(40 * i), G: 128, B: 255, A: 255})
		f, err := os.Create(filepath.Join(dir, id+".png"))
		if err != nil {
			t.Fatalf("failed to create stimulus %s: %v", id, err)
		}
		if err := png.Encode(f, img); err != nil {
			f.Close()
			t.Fatalf("failed to encode stimulus %s: %v", id, err)
		}
		if err := f.Close(); err != nil {
			t.Fatalf("failed to close stimulus %s: %v", id, err)
		}
	}
	return dir
}

// SeedSession creates a session row in the given state.
func SeedSession(t *testing.T, st store.Store, id string, state models.RunState) models.SessionRecord {
	t.Helper()
	rec := models.SessionRecord{ID: id, ParticipantID: "001", Session: 1, Position: 1, State: state}
	if err := st.CreateSession(rec); err != nil {
		t.Fatalf("failed to seed session %s: %v", id, err)
	}
	return rec
}

// AssertSessionState checks the journaled state of a session.
func AssertSessionState(t *testing.T, st store.Store, id string, want models.RunState) {
	t.Helper()
	rec, err := st.GetSession(id)
	if err != nil {
		t.Fatalf("failed to get session %s: %v", id, err)
	}
	if rec.State != want {
		t.Errorf("session %s state = %s, want %s", id, rec.State, want)
	}
}

// AssertTriggerLabels checks the journaled trigger labels of a session, in order.
func AssertTriggerLabels(t *testing.T, st store.Store, id string, want []string) {
	t.Helper()
	recs, err := st.ListTriggers(id)
	if err != nil {
		t.Fatalf("failed to list triggers for %s: %v", id, err)
	}
	got := make([]string, 0, len(recs))
	for _, r := range recs {
		got = append(got, r.Label)
	}
	if !slices.Equal(got, want) {
		t.Errorf("triggers for %s = %v, want %v", id, got, want)
	}
}

// MustUnmarshalJSON unmarshals JSON data into target and fails the test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, target any) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
