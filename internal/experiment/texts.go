package experiment

import "fmt"

// Participant-facing texts.
const (
	WelcomeText = "A series of images will be shown on screen.\n\n\n" +
		"Perform the gesture only when\n\"Perform gesture\"\nis written above the image.\n\n\n" +
		"Relax your arm between gestures.\n\n\n" +
		"(Press space when ready.)"
	GestureCaption = "Perform gesture"
	CompleteText   = "Experiment Complete!"
)

// PauseText is shown while paused.
func PauseText(quitKey string) string {
	return fmt.Sprintf("Experiment Paused. Press space to resume or %s to quit.", quitKey)
}

// CountdownText is shown once per second of rest.
func CountdownText(seconds int) string {
	return fmt.Sprintf("Next gesture in %d seconds", seconds)
}
