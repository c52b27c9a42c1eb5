package controller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rcowellai/recording-app-sub000/internal/apperror"
	"github.com/rcowellai/recording-app-sub000/internal/logger"
	"github.com/rcowellai/recording-app-sub000/internal/recorder"
	"github.com/rcowellai/recording-app-sub000/internal/session"
	"github.com/rcowellai/recording-app-sub000/internal/sessionlink"
	"github.com/rcowellai/recording-app-sub000/internal/upload"
)

// SessionClient is the subset of *session.Client the controller depends on.
type SessionClient interface {
	Load(ctx context.Context, sessionID string) (*session.Session, error)
	Validate(sess *session.Session, userID, promptID string) session.ValidationFailure
	Transition(ctx context.Context, sessionID string, fromExpected, to session.Status, patch session.Patch) error
	ReportError(ctx context.Context, sessionID string, fromExpected session.Status, appErr *apperror.Error) error
}

// SessionWatcher is the subset of *session.Watcher the controller depends on.
type SessionWatcher interface {
	Watch(ctx context.Context, sessionID string, knownStatus session.Status) <-chan session.Change
}

// Config holds the controller's timing tunables, sourced from the recording
// engine section of the service config.
type Config struct {
	Countdown   time.Duration
	Cadence     time.Duration
	MaxDuration time.Duration
	WarningLead time.Duration
}

// Controller is the Recording Controller: it owns the single
// authoritative RecorderRuntimeState for one session and drives every
// transition a browser tab can make, from loading the link through
// completion or failure.
type Controller struct {
	mu sync.Mutex

	cfg           Config
	link          sessionlink.SessionID
	client        SessionClient
	watcher       SessionWatcher
	codec         *recorder.CodecSelector
	acquirer      recorder.Acquirer
	driverFactory recorder.DriverFactory
	clock         recorder.Clock
	newManager    ManagerFactory

	sess        *session.Session
	knownStatus session.Status

	phase       Phase
	terminalErr *apperror.Error

	rec           *recorder.ChunkedRecorder
	mgr           UploadManager
	descriptor    recorder.Descriptor
	chunksCount   int
	finalDuration int
	loopStop      chan struct{}

	watchCancel context.CancelFunc

	events chan Event
	wg     sync.WaitGroup
}

// NewController constructs a Controller for one recording link. driverFactory
// and newManager are injected so tests never need a browser or real storage.
func NewController(
	cfg Config,
	link sessionlink.SessionID,
	client SessionClient,
	watcher SessionWatcher,
	codec *recorder.CodecSelector,
	acquirer recorder.Acquirer,
	driverFactory recorder.DriverFactory,
	clock recorder.Clock,
	newManager ManagerFactory,
) *Controller {
	if clock == nil {
		clock = recorder.SystemClock
	}
	return &Controller{
		cfg:           cfg,
		link:          link,
		client:        client,
		watcher:       watcher,
		codec:         codec,
		acquirer:      acquirer,
		driverFactory: driverFactory,
		clock:         clock,
		newManager:    newManager,
		phase:         PhaseLoading,
		events:        make(chan Event, 32),
	}
}

// Events returns the controller's event channel, the one feed a UI observes.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// Phase returns the controller's current phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Controller) emit(e Event) {
	select {
	case c.events <- e:
	default:
	}
}

func (c *Controller) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
	c.emit(Event{Kind: EventPhaseChanged, Phase: p})
}

func asAppError(err error) *apperror.Error {
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperror.Wrap(err, apperror.ErrInternal)
}

// Load fetches the session document, validates it against the link's
// identity, and — once valid — starts the watcher. Any validation failure is
// terminal.
func (c *Controller) Load(ctx context.Context) error {
	sess, err := c.client.Load(ctx, c.link.Raw)
	if err != nil && !apperror.Is(err, apperror.ErrSessionNotFound) {
		appErr := asAppError(err)
		c.failLoad(appErr)
		return appErr
	}

	if failure := c.client.Validate(sess, c.link.UserID, c.link.PromptID); failure != session.ValidationOK {
		appErr := failure.AppError()
		c.failLoad(appErr)
		return appErr
	}

	c.mu.Lock()
	c.sess = sess
	c.knownStatus = sess.Status
	c.mu.Unlock()

	c.startWatching(ctx)
	c.setPhase(PhasePrompt)
	return nil
}

func (c *Controller) failLoad(appErr *apperror.Error) {
	c.mu.Lock()
	c.terminalErr = appErr
	c.mu.Unlock()
	c.setPhase(PhaseError)
	c.emit(Event{Kind: EventFatal, Phase: PhaseError, Err: appErr})
}

func (c *Controller) startWatching(ctx context.Context) {
	watchCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.watchCancel = cancel
	knownStatus := c.knownStatus
	c.mu.Unlock()

	ch := c.watcher.Watch(watchCtx, c.link.Raw, knownStatus)
	go func() {
		for change := range ch {
			c.handleRemoteChange(change)
		}
	}()
}

// handleRemoteChange reacts to a change this tab did not itself write: the
// session being removed or expiring out from under it, or another tab/the
// external platform moving its status.
func (c *Controller) handleRemoteChange(change session.Change) {
	switch change.Kind {
	case session.ChangeRemoved:
		c.abortChildren()
		c.mu.Lock()
		c.terminalErr = apperror.ErrSessionRemoved
		c.mu.Unlock()
		c.setPhase(PhaseFailed)
		c.emit(Event{Kind: EventFatal, Phase: PhaseFailed, Err: apperror.ErrSessionRemoved})

	case session.ChangeExpired:
		c.abortChildren()
		c.mu.Lock()
		c.terminalErr = apperror.ErrSessionExpired
		c.mu.Unlock()
		c.setPhase(PhaseFailed)
		c.emit(Event{Kind: EventFatal, Phase: PhaseFailed, Err: apperror.ErrSessionExpired})

	case session.ChangeStatusExternalChange:
		switch change.Status {
		case session.StatusCompleted:
			c.abortChildren()
			c.setPhase(PhaseCompleted)
		case session.StatusFailed, session.StatusExpired, session.StatusRemoved:
			c.abortChildren()
			c.setPhase(PhaseFailed)
		default:
			// Another tab progressed the session past where this tab
			// believes it is: stop racing it.
			c.mu.Lock()
			localPhase := c.phase
			c.mu.Unlock()
			if localPhase == PhasePrompt || localPhase == PhasePreparing {
				c.abortChildren()
				c.setPhase(PhaseObservingElsewhere)
			}
		}
	}
}

// StartRecording acquires a stream for kind, claims the session with a
// conditional transition to recording, and starts capture.
// Permission/device acquisition failures are reported but leave the
// controller in "preparing" so the user can retry with a different kind.
func (c *Controller) StartRecording(ctx context.Context, kind recorder.MediaKind) error {
	c.mu.Lock()
	phase := c.phase
	c.mu.Unlock()
	if phase != PhasePrompt && phase != PhasePreparing {
		return apperror.ErrBadRequest
	}
	c.setPhase(PhasePreparing)

	descriptor, err := c.codec.Select(kind)
	if err != nil {
		appErr := asAppError(err)
		c.failFatal(ctx, appErr)
		return appErr
	}

	stream, err := c.acquirer.Acquire(ctx, kind, recorder.DefaultAudioConstraints(), recorder.DefaultVideoConstraints())
	if err != nil {
		appErr := asAppError(err)
		c.emit(Event{Kind: EventFatal, Phase: PhasePreparing, Err: appErr})
		return appErr
	}

	c.mu.Lock()
	c.descriptor = descriptor
	sessID := c.link.Raw
	fromStatus := c.knownStatus
	resumeFrom := -1
	if c.sess != nil && c.sess.RecordingData.LastChunkUploaded != nil {
		resumeFrom = *c.sess.RecordingData.LastChunkUploaded
	}
	c.mu.Unlock()

	now := c.clock.Now()
	if err := c.client.Transition(ctx, sessID, fromStatus, session.StatusRecording, session.Patch{RecordingStartedAt: &now}); err != nil {
		stream.Release()
		if apperror.Is(err, apperror.ErrConcurrentTransition) {
			c.setPhase(PhaseObservingElsewhere)
			return apperror.ErrConcurrentTransition
		}
		appErr := asAppError(err)
		c.failFatal(ctx, appErr)
		return appErr
	}

	c.mu.Lock()
	c.knownStatus = session.StatusRecording
	c.mu.Unlock()

	// The countdown is fixed-duration and not user-interruptible; capture
	// begins the moment it elapses.
	c.setPhase(PhaseCountdown)
	if c.cfg.Countdown > 0 {
		select {
		case <-time.After(c.cfg.Countdown):
		case <-ctx.Done():
			stream.Release()
			return ctx.Err()
		}
	}

	mgr := c.newManager(resumeFrom, descriptor.Extension)
	rec := recorder.NewChunkedRecorder(descriptor, c.driverFactory(descriptor, stream), c.clock,
		c.cfg.Cadence, c.cfg.MaxDuration, c.cfg.WarningLead)

	startIndex := resumeFrom + 1
	if err := rec.Start(stream, startIndex); err != nil {
		appErr := asAppError(err)
		mgr.Abort()
		c.failFatal(ctx, appErr)
		return appErr
	}

	loopStop := make(chan struct{})
	c.mu.Lock()
	c.rec = rec
	c.mgr = mgr
	c.loopStop = loopStop
	c.mu.Unlock()

	c.wg.Add(1)
	go c.runEventLoop(ctx, rec, mgr, loopStop)
	go rec.RunTicker(loopStop)

	c.setPhase(PhaseRecording)
	return nil
}

func (c *Controller) runEventLoop(ctx context.Context, rec *recorder.ChunkedRecorder, mgr UploadManager, stop <-chan struct{}) {
	defer c.wg.Done()
	recEvents := rec.Events()
	mgrEvents := mgr.Events()
	for {
		select {
		case ev := <-recEvents:
			c.handleRecorderEvent(ctx, ev, mgr)
		case ev := <-mgrEvents:
			c.handleManagerEvent(ctx, ev)
		case <-stop:
			return
		}
	}
}

func (c *Controller) handleRecorderEvent(ctx context.Context, ev recorder.Event, mgr UploadManager) {
	switch ev.Kind {
	case recorder.EventChunkAvailable:
		if err := mgr.Enqueue(ctx, ev.Chunk); err != nil {
			c.failFatal(ctx, asAppError(err))
		}
	case recorder.EventDurationTick:
		c.emit(Event{Kind: EventDurationTick, Phase: c.Phase(), ElapsedSeconds: ev.ElapsedSeconds})
	case recorder.EventDurationWarning:
		c.emit(Event{Kind: EventDurationWarning, Phase: c.Phase(), SecondsRemaining: ev.SecondsRemaining})
	case recorder.EventDurationReached:
		// The recorder stops itself right after this; the UI gets the
		// boundary event before the completion that follows.
		c.emit(Event{Kind: EventDurationReached, Phase: c.Phase()})
	case recorder.EventPaused:
		c.setPhase(PhasePaused)
	case recorder.EventResumed:
		c.setPhase(PhaseRecording)
	case recorder.EventRecordingComplete:
		c.mu.Lock()
		c.chunksCount = ev.ChunksCount
		c.finalDuration = ev.FinalDurationSeconds
		c.mu.Unlock()
		mgr.SetExpectedTotal(ev.ChunksCount)
		c.setPhase(PhaseReviewing)
	case recorder.EventError:
		c.failFatal(ctx, asAppError(ev.Err))
	}
}

func (c *Controller) handleManagerEvent(ctx context.Context, ev upload.Event) {
	switch ev.Kind {
	case upload.EventFatal:
		c.failFatal(ctx, asAppError(ev.Err))
	case upload.EventProgress:
		c.emit(Event{
			Kind:              EventUploadProgress,
			Phase:             c.Phase(),
			UploadProgress:    ev.Progress.UploadProgress,
			LastChunkUploaded: derefInt(ev.Progress.LastChunkUploaded),
		})
	}
}

func derefInt(p *int) int {
	if p == nil {
		return -1
	}
	return *p
}

// failFatal is the single path to the failed phase on an in-flight error: it
// aborts local children, best-effort reports the error on the session, and
// emits the terminal event exactly once.
func (c *Controller) failFatal(ctx context.Context, appErr *apperror.Error) {
	c.mu.Lock()
	if c.terminalErr != nil {
		c.mu.Unlock()
		return
	}
	c.terminalErr = appErr
	sessID := c.link.Raw
	fromStatus := c.knownStatus
	c.mu.Unlock()

	c.abortChildren()

	if err := c.client.ReportError(context.Background(), sessID, fromStatus, appErr); err != nil {
		logger.FromContext(ctx).Warn("failed to report session error", "session_id", sessID, "error", err)
	}
	c.setPhase(PhaseFailed)
	c.emit(Event{Kind: EventFatal, Phase: PhaseFailed, Err: appErr})
}

func (c *Controller) stopLoop() {
	c.mu.Lock()
	stop := c.loopStop
	c.loopStop = nil
	c.mu.Unlock()
	if stop == nil {
		return
	}
	select {
	case <-stop:
	default:
		close(stop)
	}
}

func (c *Controller) abortChildren() {
	c.mu.Lock()
	rec := c.rec
	mgr := c.mgr
	c.mu.Unlock()
	if rec != nil {
		rec.Abort()
	}
	if mgr != nil {
		mgr.Abort()
	}
	c.stopLoop()
}

// Pause pauses the active recording at the user's request.
func (c *Controller) Pause() {
	c.mu.Lock()
	rec := c.rec
	c.mu.Unlock()
	if rec != nil {
		rec.Pause(recorder.PauseCauseUser)
	}
}

// Resume resumes a user-paused recording. It must never be called
// automatically for a visibility-caused pause.
func (c *Controller) Resume() {
	c.mu.Lock()
	rec := c.rec
	c.mu.Unlock()
	if rec != nil {
		rec.Resume(recorder.PauseCauseUser)
	}
}

// OnVisibilityChange forwards the browser's visibility signal to the active
// recorder.
func (c *Controller) OnVisibilityChange(hidden bool) {
	c.mu.Lock()
	rec := c.rec
	c.mu.Unlock()
	if rec != nil {
		rec.OnVisibilityChange(hidden)
	}
}

// Stop ends capture and moves to reviewing once the final chunk has flushed.
func (c *Controller) Stop() error {
	c.mu.Lock()
	rec := c.rec
	c.mu.Unlock()
	if rec == nil {
		return apperror.ErrBadRequest
	}
	rec.Stop()
	return nil
}

// Submit closes the upload queue, waits for every chunk to land, and walks
// the session through uploading to processing.
func (c *Controller) Submit(ctx context.Context) error {
	c.mu.Lock()
	if c.phase != PhaseReviewing {
		c.mu.Unlock()
		return apperror.ErrBadRequest
	}
	mgr := c.mgr
	sessID := c.link.Raw
	fromStatus := c.knownStatus
	chunksCount := c.chunksCount
	finalDuration := c.finalDuration
	mimeType := c.descriptor.MimeType
	c.mu.Unlock()

	c.setPhase(PhaseUploading)
	mgr.Close()

	if err := c.client.Transition(ctx, sessID, fromStatus, session.StatusUploading, session.Patch{}); err != nil {
		appErr := asAppError(err)
		c.failFatal(ctx, appErr)
		return appErr
	}
	c.mu.Lock()
	c.knownStatus = session.StatusUploading
	c.mu.Unlock()

	if err := mgr.Wait(ctx); err != nil {
		appErr := asAppError(err)
		c.failFatal(ctx, appErr)
		return appErr
	}

	now := c.clock.Now()
	lastUploaded, _, bytesUploaded := mgr.Summary()
	duration := float64(finalDuration)
	finalData := session.RecordingData{
		Duration:          &duration,
		FileSize:          &bytesUploaded,
		MimeType:          mimeType,
		ChunksCount:       chunksCount,
		UploadProgress:    100,
		LastChunkUploaded: &lastUploaded,
	}
	if err := c.client.Transition(ctx, sessID, session.StatusUploading, session.StatusProcessing, session.Patch{
		RecordingCompletedAt: &now,
		RecordingData:        &finalData,
	}); err != nil {
		appErr := asAppError(err)
		c.failFatal(ctx, appErr)
		return appErr
	}

	c.mu.Lock()
	c.knownStatus = session.StatusProcessing
	c.mu.Unlock()
	c.stopLoop()
	c.setPhase(PhaseProcessing)
	return nil
}

// StartOver discards the current attempt and resets the session so the user
// can record again.
func (c *Controller) StartOver(ctx context.Context) error {
	c.mu.Lock()
	phase := c.phase
	sessID := c.link.Raw
	fromStatus := c.knownStatus
	c.mu.Unlock()
	if phase != PhaseReviewing && phase != PhasePaused && phase != PhaseRecording {
		return apperror.ErrBadRequest
	}

	c.abortChildren()

	empty := session.RecordingData{}
	if err := c.client.Transition(ctx, sessID, fromStatus, session.StatusActive, session.Patch{RecordingData: &empty}); err != nil {
		appErr := asAppError(err)
		c.failFatal(ctx, appErr)
		return appErr
	}

	c.mu.Lock()
	c.knownStatus = session.StatusActive
	c.rec = nil
	c.mgr = nil
	c.chunksCount = 0
	c.mu.Unlock()

	c.setPhase(PhasePrompt)
	return nil
}

// Abort releases local resources and stops watching without writing to the
// session, leaving it for another tab or a later reload to resume.
// Abandonment is idempotent and non-destructive.
func (c *Controller) Abort() {
	c.abortChildren()
	c.mu.Lock()
	cancel := c.watchCancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the controller's internal event-loop goroutine (if any)
// has exited. Intended for tests that need deterministic shutdown.
func (c *Controller) Wait() {
	c.wg.Wait()
}
