package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/models"
	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/store"
)

func TestWriteStimuli(t *testing.T) {
	dir := WriteStimuli(t, filepath.Join(t.TempDir(), "images"), "fist", "point")
	for _, name := range []string{"fist.png", "point.png"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}
}

func TestJournalHelpers(t *testing.T) {
	st := store.NewInMemoryStore()
	SeedSession(t, st, "s_1", models.StateRunning)
	AssertSessionState(t, st, "s_1", models.StateRunning)

	for i, l := range []string{"start_a", "end_a"} {
		if err := st.AppendTrigger(models.TriggerRecord{SessionID: "s_1", Seq: i + 1, Label: l}); err != nil {
			t.Fatalf("AppendTrigger: %v", err)
		}
	}
	AssertTriggerLabels(t, st, "s_1", []string{"start_a", "end_a"})
}

func TestMustUnmarshalJSON(t *testing.T) {
	var p models.ParticipantInfo
	MustUnmarshalJSON(t, []byte(`{"participant":"7","age":30,"gender":"Female","session":1,"position":2}`), &p)
	if p.ID != "7" || p.Gender != models.GenderFemale || p.Position != 2 {
		t.Errorf("decoded %+v", p)
	}
}
