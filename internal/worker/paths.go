package worker

import "fmt"

// Canonical job-scoped blob paths. The input path is whatever the uploaded
// file's metadata says; everything else is derived from (userID, jobID).

// PartialPath is where the stride checkpoints land; overwritten each time.
func PartialPath(userID, jobID string) string {
	return fmt.Sprintf("enriched/%s/%s_partial.csv", userID, jobID)
}

// FinalPath holds the completed enriched table.
func FinalPath(userID, jobID string) string {
	return fmt.Sprintf("enriched/%s/%s_enriched.csv", userID, jobID)
}

// LogPath holds the assembled textual log artifact.
func LogPath(userID, jobID string) string {
	return fmt.Sprintf("logs/%s/%s.txt", userID, jobID)
}

// OptionsPath holds the JSON controls blob; absence implies defaults.
func OptionsPath(userID, jobID string) string {
	return fmt.Sprintf("controls/%s/%s.json", userID, jobID)
}
