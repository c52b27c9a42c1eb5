package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rcowellai/recording-app-sub000/internal/apperror"
	"github.com/rcowellai/recording-app-sub000/internal/logger"
	"github.com/rcowellai/recording-app-sub000/internal/metrics"
	"github.com/rcowellai/recording-app-sub000/internal/session"
	"github.com/rcowellai/recording-app-sub000/internal/storage"
)

// UploadChunkResponse reports where a chunk landed and how far along the
// upload now is.
type UploadChunkResponse struct {
	ChunkIndex        int    `json:"chunk_index"`
	Key               string `json:"key"`
	LastChunkUploaded int    `json:"last_chunk_uploaded"`
	UploadProgress    int    `json:"upload_progress"`
	AlreadyUploaded   bool   `json:"already_uploaded,omitempty"`
}

// UploadChunkHandler stores one chunk at its deterministic object key and
// advances the session's progress fields. Re-posting an index at or below
// lastChunkUploaded is a no-op, so retries after a reload are idempotent.
func UploadChunkHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		link, ok := parseLink(cfg, w, r)
		if !ok {
			return
		}
		r = r.WithContext(logger.WithSessionID(r.Context(), link.Raw))
		log := logger.FromContext(r.Context())

		index, err := strconv.Atoi(r.PathValue("index"))
		if err != nil || index < 0 {
			apperror.WriteJSON(w, r, apperror.WrapWithMessage(err, "invalid_chunk_index", "Invalid chunk index", http.StatusBadRequest))
			return
		}

		sess, ok := loadSession(cfg, w, r, link)
		if !ok {
			return
		}
		if sess.Status != session.StatusRecording && sess.Status != session.StatusUploading {
			apperror.WriteJSON(w, r, apperror.WrapWithMessage(nil, "not_recording",
				"This session is not accepting chunks", http.StatusConflict))
			return
		}

		last := -1
		if sess.RecordingData.LastChunkUploaded != nil {
			last = *sess.RecordingData.LastChunkUploaded
		}
		ext := extensionForMime(r.Header.Get("Content-Type"))
		key := storage.ChunkObjectPath(sess.UserID, sess.SessionID, index, ext)

		if index <= last {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(UploadChunkResponse{
				ChunkIndex:        index,
				Key:               key,
				LastChunkUploaded: last,
				UploadProgress:    sess.RecordingData.UploadProgress,
				AlreadyUploaded:   true,
			})
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxChunkSize)
		data, err := io.ReadAll(r.Body)
		if err != nil {
			apperror.WriteJSON(w, r, apperror.WrapWithMessage(err, "read_chunk_failed", "Failed to read chunk data", http.StatusBadRequest))
			return
		}

		contentType := r.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		metadata := map[string]string{
			"sessionId":  sess.SessionID,
			"chunkIndex": strconv.Itoa(index),
		}
		if total := r.Header.Get("X-Chunks-Total"); total != "" {
			metadata["totalExpected"] = total
		}

		start := time.Now()
		if err := cfg.Storage.Upload(r.Context(), key, bytes.NewReader(data), contentType, int64(len(data)), metadata); err != nil {
			metrics.RecordChunkUpload("error", int64(len(data)), time.Since(start).Seconds())
			log.Error("chunk upload failed", "session_id", sess.SessionID, "chunk_index", index, "error", err)
			apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrUploadTransient))
			return
		}
		metrics.RecordChunkUpload("success", int64(len(data)), time.Since(start).Seconds())

		if last < 0 {
			folder := storage.ChunksFolder(sess.UserID, sess.SessionID)
			if err := cfg.Sessions.SetChunksFolder(r.Context(), sess.SessionID, folder); err != nil {
				log.Warn("failed to set chunks folder", "session_id", sess.SessionID, "error", err)
			}
		}

		// Progress fields are monotonic: an out-of-order completion never
		// walks lastChunkUploaded backwards.
		newLast := last
		if index > newLast {
			newLast = index
		}
		progress := sess.RecordingData
		progress.LastChunkUploaded = &newLast
		if expected, err := strconv.Atoi(metadata["totalExpected"]); err == nil && expected > 0 {
			pct := (newLast + 1) * 100 / expected
			if pct > progress.UploadProgress {
				progress.UploadProgress = pct
			}
		}
		if err := cfg.Sessions.ReportProgress(r.Context(), sess.SessionID, progress); err != nil {
			log.Warn("failed to report progress", "session_id", sess.SessionID, "error", err)
		}
		notify(cfg, r, sess.SessionID)

		log.Debug("chunk stored",
			"session_id", sess.SessionID,
			"chunk_index", index,
			"size", len(data),
			"key", key,
		)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(UploadChunkResponse{
			ChunkIndex:        index,
			Key:               key,
			LastChunkUploaded: newLast,
			UploadProgress:    progress.UploadProgress,
		})
	}
}

// extensionForMime maps the negotiated container onto the object key's
// extension. Unknown types fall back to webm, the runtime-default container.
func extensionForMime(mimeType string) string {
	switch {
	case len(mimeType) >= 9 && mimeType[:9] == "audio/mp4",
		len(mimeType) >= 9 && mimeType[:9] == "video/mp4":
		return "mp4"
	default:
		return "webm"
	}
}
