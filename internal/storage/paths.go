package storage

import "fmt"

// ChunkObjectPath returns the deterministic object key for a single uploaded
// chunk of a recording session.
func ChunkObjectPath(userID, sessionID string, index int, ext string) string {
	return fmt.Sprintf("users/%s/recordings/%s/chunks/chunk_%d.%s", userID, sessionID, index, ext)
}

// FinalObjectPath returns the deterministic object key for the assembled
// recording once the session has finished uploading.
func FinalObjectPath(userID, sessionID, ext string) string {
	return fmt.Sprintf("users/%s/recordings/%s/final/recording.%s", userID, sessionID, ext)
}

// ChunksFolder returns the folder prefix chunk objects are written under,
// recorded on the session as storagePaths.chunksFolder.
func ChunksFolder(userID, sessionID string) string {
	return fmt.Sprintf("users/%s/recordings/%s/chunks/", userID, sessionID)
}
