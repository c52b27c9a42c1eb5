package ctl

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/rcowellai/recording-app-sub000/internal/controller"
	"github.com/rcowellai/recording-app-sub000/internal/recorder"
	"github.com/rcowellai/recording-app-sub000/internal/session"
	"github.com/rcowellai/recording-app-sub000/internal/sessionlink"
	"github.com/rcowellai/recording-app-sub000/internal/storage"
	"github.com/rcowellai/recording-app-sub000/internal/upload"
)

var (
	rehearseRuntime    string
	rehearseKind       string
	rehearseChunks     int
	rehearseChunkBytes int
)

type rehearsalStream struct{}

func (rehearsalStream) Release() {}

type rehearsalAcquirer struct{}

func (rehearsalAcquirer) Acquire(_ context.Context, _ recorder.MediaKind, _ recorder.AudioConstraints, _ recorder.VideoConstraints) (recorder.MediaStream, error) {
	return rehearsalStream{}, nil
}

// rehearsalDriver stands in for the browser's media recorder: the command
// pushes synthetic chunk data through it.
type rehearsalDriver struct {
	mu      sync.Mutex
	onChunk func([]byte)
}

func (d *rehearsalDriver) Start(_ string, _ recorder.MediaStream, onChunk func([]byte)) error {
	d.mu.Lock()
	d.onChunk = onChunk
	d.mu.Unlock()
	return nil
}

func (d *rehearsalDriver) Pause()  {}
func (d *rehearsalDriver) Resume() {}
func (d *rehearsalDriver) Stop()   {}
func (d *rehearsalDriver) Abort()  {}

func (d *rehearsalDriver) produce(data []byte) {
	d.mu.Lock()
	cb := d.onChunk
	d.mu.Unlock()
	cb(data)
}

type silentWatcher struct{}

func (silentWatcher) Watch(ctx context.Context, _ string, _ session.Status) <-chan session.Change {
	out := make(chan session.Change)
	go func() {
		<-ctx.Done()
		close(out)
	}()
	return out
}

// rehearseCmd runs the whole recording engine in-process, with a simulated
// capture device, an in-memory session store, and in-memory object storage.
// No services required; useful for demonstrating the full state machine and
// verifying a runtime profile end to end.
var rehearseCmd = &cobra.Command{
	Use:   "rehearse",
	Short: "Run the recording engine in-process with a simulated capture device",
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := recorder.MediaKind(rehearseKind)
		if kind != recorder.MediaKindAudio && kind != recorder.MediaKindVideo {
			return fmt.Errorf("--kind must be audio or video")
		}

		prefix := strings.ReplaceAll(uuid.New().String(), "-", "")[:10]
		sessionID := fmt.Sprintf("%s-prompt1-user1-teller1-%d", prefix, time.Now().Unix())

		repo := session.NewFakeRepository()
		repo.Put(&session.Session{
			SessionID:          sessionID,
			UserID:             "user1",
			PromptID:           "prompt1",
			StorytellerID:      "teller1",
			PromptText:         "Tell us a story",
			MaxDurationSeconds: 900,
			AllowAudio:         true,
			AllowVideo:         true,
			Status:             session.StatusPending,
			CreatedAt:          time.Now().UTC(),
			ExpiresAt:          time.Now().UTC().Add(24 * time.Hour),
		})

		client := session.NewClient(repo, nil)
		store := storage.NewMemoryStorage()
		driver := &rehearsalDriver{}

		link, err := sessionlink.Parse(sessionID)
		if err != nil {
			return err
		}

		ctrl := controller.NewController(
			controller.Config{
				Countdown:   0,
				Cadence:     45 * time.Second,
				MaxDuration: 900 * time.Second,
				WarningLead: 60 * time.Second,
			},
			link,
			client,
			silentWatcher{},
			recorder.NewCodecSelector(recorder.RuntimeProbe(rehearseRuntime)),
			rehearsalAcquirer{},
			func(_ recorder.Descriptor, _ recorder.MediaStream) recorder.Driver { return driver },
			nil,
			func(resumeFrom int, extension string) controller.UploadManager {
				return upload.NewManager(upload.DefaultConfig(), store, client, upload.AlwaysAllow,
					"user1", sessionID, extension, resumeFrom)
			},
		)

		color.Cyan("→ loading session %s", sessionID)
		if err := ctrl.Load(rootCtx); err != nil {
			return fmt.Errorf("load: %w", err)
		}

		color.Cyan("→ starting %s capture on the %s profile", kind, rehearseRuntime)
		if err := ctrl.StartRecording(rootCtx, kind); err != nil {
			return fmt.Errorf("start: %w", err)
		}

		bar := progressbar.NewOptions(rehearseChunks,
			progressbar.OptionSetDescription("capturing chunks"),
			progressbar.OptionSetWidth(30),
			progressbar.OptionShowCount(),
			progressbar.OptionOnCompletion(func() { fmt.Println() }),
		)
		for i := 0; i < rehearseChunks; i++ {
			chunk := make([]byte, rehearseChunkBytes)
			if _, err := rand.Read(chunk); err != nil {
				return err
			}
			driver.produce(chunk)
			_ = bar.Add(1)
		}

		if err := ctrl.Stop(); err != nil {
			return fmt.Errorf("stop: %w", err)
		}
		if err := waitPhase(ctrl, controller.PhaseReviewing, 5*time.Second); err != nil {
			return err
		}

		color.Cyan("→ submitting")
		if err := ctrl.Submit(rootCtx); err != nil {
			return fmt.Errorf("submit: %w", err)
		}

		sess, _ := repo.Snapshot(sessionID)
		color.Green("✓ rehearsal complete")
		fmt.Printf("  status:        %s\n", colorStatus(string(sess.Status)))
		fmt.Printf("  mime type:     %s\n", sess.RecordingData.MimeType)
		fmt.Printf("  chunks:        %d (objects stored: %d)\n", sess.RecordingData.ChunksCount, store.Count())
		fmt.Printf("  progress:      %d%%\n", sess.RecordingData.UploadProgress)
		fmt.Printf("  chunks folder: %s\n", sess.StoragePaths.ChunksFolder)
		return nil
	},
}

func waitPhase(ctrl *controller.Controller, want controller.Phase, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if ctrl.Phase() == want {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fmt.Errorf("timed out waiting for phase %q, still %q", want, ctrl.Phase())
}

func init() {
	rehearseCmd.Flags().StringVar(&rehearseRuntime, "runtime", "full", "runtime profile: full, safari, chromium, firefox, none")
	rehearseCmd.Flags().StringVar(&rehearseKind, "kind", "audio", "capture mode: audio or video")
	rehearseCmd.Flags().IntVar(&rehearseChunks, "chunks", 3, "number of chunks to capture")
	rehearseCmd.Flags().IntVar(&rehearseChunkBytes, "chunk-bytes", 64*1024, "bytes per chunk")
	rootCmd.AddCommand(rehearseCmd)
}
