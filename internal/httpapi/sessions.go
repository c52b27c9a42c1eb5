package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rcowellai/recording-app-sub000/internal/apperror"
	"github.com/rcowellai/recording-app-sub000/internal/logger"
	"github.com/rcowellai/recording-app-sub000/internal/session"
	"github.com/rcowellai/recording-app-sub000/internal/sessionlink"
)

// SessionResponse is what a freshly-opened recording tab gets back: the
// display fields it renders, the config it obeys, and enough progress state
// to resume residual uploads after a reload.
type SessionResponse struct {
	SessionID       string `json:"session_id"`
	Status          string `json:"status"`
	PromptText      string `json:"prompt_text"`
	StorytellerName string `json:"storyteller_name"`
	CoupleNames     string `json:"couple_names"`

	MaxDurationSeconds int  `json:"max_duration_seconds"`
	AllowAudio         bool `json:"allow_audio"`
	AllowVideo         bool `json:"allow_video"`

	ExpiresAt         time.Time `json:"expires_at"`
	UploadProgress    int       `json:"upload_progress"`
	LastChunkUploaded *int      `json:"last_chunk_uploaded,omitempty"`
	ChunksCount       int       `json:"chunks_count,omitempty"`

	Engine EngineDefaults `json:"engine"`
}

// parseLink resolves the path's session identifier, rejecting anything that
// is not a structurally valid five-segment link of acceptable age.
func parseLink(cfg *Config, w http.ResponseWriter, r *http.Request) (sessionlink.SessionID, bool) {
	link, err := sessionlink.Parse(r.PathValue("sessionId"))
	if err != nil {
		apperror.WriteJSON(w, r, err)
		return sessionlink.SessionID{}, false
	}
	if err := link.ValidateAge(time.Now().UTC(), cfg.MaxLinkAge); err != nil {
		apperror.WriteJSON(w, r, err)
		return sessionlink.SessionID{}, false
	}
	return link, true
}

// loadSession fetches the document for a parsed link without validating
// recordability; handlers that mutate state pick their own checks.
func loadSession(cfg *Config, w http.ResponseWriter, r *http.Request, link sessionlink.SessionID) (*session.Session, bool) {
	sess, err := cfg.Sessions.Load(r.Context(), link.Raw)
	if err != nil {
		apperror.WriteJSON(w, r, err)
		return nil, false
	}
	return sess, true
}

// GetSessionHandler loads and validates the session behind a link. This is
// the first call a recording tab makes.
func GetSessionHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		link, ok := parseLink(cfg, w, r)
		if !ok {
			return
		}

		sess, err := cfg.Sessions.Load(r.Context(), link.Raw)
		if err != nil && !apperror.Is(err, apperror.ErrSessionNotFound) {
			apperror.WriteJSON(w, r, err)
			return
		}
		if failure := cfg.Sessions.Validate(sess, link.UserID, link.PromptID); failure != session.ValidationOK {
			apperror.WriteJSON(w, r, failure.AppError())
			return
		}

		resp := SessionResponse{
			SessionID:          sess.SessionID,
			Status:             string(sess.Status),
			PromptText:         sess.PromptText,
			StorytellerName:    sess.StorytellerName,
			CoupleNames:        sess.CoupleNames,
			MaxDurationSeconds: sess.MaxDurationSeconds,
			AllowAudio:         sess.AllowAudio,
			AllowVideo:         sess.AllowVideo,
			ExpiresAt:          sess.ExpiresAt,
			UploadProgress:     sess.RecordingData.UploadProgress,
			LastChunkUploaded:  sess.RecordingData.LastChunkUploaded,
			ChunksCount:        sess.RecordingData.ChunksCount,
			Engine:             cfg.Engine,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// StartRecordingRequest is sent when the user actually hits record. The tab
// supplies the status it believes the session is in; a stale belief loses
// the conditional transition, which is exactly how two tabs on the same
// link are kept from both recording.
type StartRecordingRequest struct {
	From     string `json:"from"`
	MimeType string `json:"mime_type"`
}

func StartRecordingHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		link, ok := parseLink(cfg, w, r)
		if !ok {
			return
		}

		var req StartRecordingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrBadRequest))
			return
		}
		from := session.Status(req.From)
		if !from.Recordable() {
			apperror.WriteJSON(w, r, apperror.ErrBadRequest)
			return
		}

		now := time.Now().UTC()
		patch := session.Patch{RecordingStartedAt: &now}
		if req.MimeType != "" {
			patch.RecordingData = &session.RecordingData{MimeType: req.MimeType}
		}
		if err := cfg.Sessions.Transition(r.Context(), link.Raw, from, session.StatusRecording, patch); err != nil {
			apperror.WriteJSON(w, r, err)
			return
		}
		notify(cfg, r, link.Raw)

		logger.FromContext(r.Context()).Info("recording started",
			"session_id", link.Raw, "mime_type", req.MimeType)
		writeStatus(w, session.StatusRecording)
	}
}

// SubmitHandler moves recording -> uploading once the user confirms their
// take. Chunk uploads for indices already captured keep landing while the
// session sits in uploading.
func SubmitHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		link, ok := parseLink(cfg, w, r)
		if !ok {
			return
		}

		if err := cfg.Sessions.Transition(r.Context(), link.Raw, session.StatusRecording, session.StatusUploading, session.Patch{}); err != nil {
			apperror.WriteJSON(w, r, err)
			return
		}
		notify(cfg, r, link.Raw)
		writeStatus(w, session.StatusUploading)
	}
}

// CompleteRequest finalizes the recording's metadata once every chunk has
// landed.
type CompleteRequest struct {
	ChunksCount     int     `json:"chunks_count"`
	DurationSeconds float64 `json:"duration_seconds"`
	MimeType        string  `json:"mime_type"`
	FileSizeBytes   int64   `json:"file_size_bytes"`
}

// CompleteHandler moves uploading -> processing. It refuses to finalize a
// session whose recorded chunk set is not actually complete, so a tab that
// lost chunks cannot hand the processor a hole.
func CompleteHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		link, ok := parseLink(cfg, w, r)
		if !ok {
			return
		}

		var req CompleteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrBadRequest))
			return
		}
		if req.ChunksCount < 1 {
			apperror.WriteJSON(w, r, apperror.ErrBadRequest)
			return
		}

		sess, ok := loadSession(cfg, w, r, link)
		if !ok {
			return
		}
		last := -1
		if sess.RecordingData.LastChunkUploaded != nil {
			last = *sess.RecordingData.LastChunkUploaded
		}
		if last != req.ChunksCount-1 {
			apperror.WriteJSON(w, r, apperror.WrapWithMessage(nil, "chunks_incomplete",
				"Not every chunk has finished uploading", http.StatusConflict))
			return
		}

		now := time.Now().UTC()
		lastIdx := req.ChunksCount - 1
		data := session.RecordingData{
			Duration:          &req.DurationSeconds,
			MimeType:          req.MimeType,
			ChunksCount:       req.ChunksCount,
			UploadProgress:    100,
			LastChunkUploaded: &lastIdx,
		}
		if req.FileSizeBytes > 0 {
			data.FileSize = &req.FileSizeBytes
		}
		patch := session.Patch{
			RecordingCompletedAt: &now,
			RecordingData:        &data,
		}
		if err := cfg.Sessions.Transition(r.Context(), link.Raw, session.StatusUploading, session.StatusProcessing, patch); err != nil {
			apperror.WriteJSON(w, r, err)
			return
		}
		notify(cfg, r, link.Raw)

		logger.FromContext(r.Context()).Info("recording completed",
			"session_id", link.Raw, "chunks_count", req.ChunksCount)
		writeStatus(w, session.StatusProcessing)
	}
}

// StartOverRequest carries the tab's current belief about the status so the
// reset stays race-safe.
type StartOverRequest struct {
	From string `json:"from"`
}

// StartOverHandler discards the current attempt: progress fields reset and
// the session returns to active so the user can record again.
func StartOverHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		link, ok := parseLink(cfg, w, r)
		if !ok {
			return
		}

		var req StartOverRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrBadRequest))
			return
		}

		empty := session.RecordingData{}
		if err := cfg.Sessions.Transition(r.Context(), link.Raw, session.Status(req.From), session.StatusActive, session.Patch{RecordingData: &empty}); err != nil {
			apperror.WriteJSON(w, r, err)
			return
		}
		notify(cfg, r, link.Raw)
		writeStatus(w, session.StatusActive)
	}
}

// ReportErrorRequest is sent by a tab that hit a fatal capture or upload
// error.
type ReportErrorRequest struct {
	From      string `json:"from"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func ReportErrorHandler(cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		link, ok := parseLink(cfg, w, r)
		if !ok {
			return
		}

		var req ReportErrorRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperror.WriteJSON(w, r, apperror.Wrap(err, apperror.ErrBadRequest))
			return
		}
		if req.Code == "" {
			apperror.WriteJSON(w, r, apperror.ErrBadRequest)
			return
		}

		appErr := &apperror.Error{
			Code:       req.Code,
			Message:    req.Message,
			StatusCode: http.StatusInternalServerError,
			Retryable:  req.Retryable,
		}
		if err := cfg.Sessions.ReportError(r.Context(), link.Raw, session.Status(req.From), appErr); err != nil {
			apperror.WriteJSON(w, r, err)
			return
		}
		notify(cfg, r, link.Raw)
		writeStatus(w, session.StatusFailed)
	}
}

func notify(cfg *Config, r *http.Request, sessionID string) {
	if cfg.Notifier != nil {
		cfg.Notifier.Notify(r.Context(), sessionID)
	}
}

func writeStatus(w http.ResponseWriter, status session.Status) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": string(status)})
}
