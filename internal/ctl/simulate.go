package ctl

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/rcowellai/recording-app-sub000/internal/httpapi"
)

var (
	simChunks     int
	simChunkBytes int
	simMimeType   string
	simFrom       string
)

// simulateCmd drives a complete recording against a running API the way a
// browser tab would: claim the session, upload every chunk, submit, and
// finalize. Useful for exercising the whole pipeline without a microphone.
var simulateCmd = &cobra.Command{
	Use:   "simulate <session-id>",
	Short: "Drive a simulated recording end to end against the API",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID := args[0]

		color.Cyan("→ claiming session %s", sessionID)
		if err := postJSON(fmt.Sprintf("%s/r/%s/start", baseURL, sessionID), httpapi.StartRecordingRequest{
			From:     simFrom,
			MimeType: simMimeType,
		}, nil); err != nil {
			return fmt.Errorf("start recording: %w", err)
		}

		bar := progressbar.NewOptions(simChunks,
			progressbar.OptionSetDescription("uploading chunks"),
			progressbar.OptionSetWidth(30),
			progressbar.OptionShowCount(),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionOnCompletion(func() { fmt.Println() }),
		)

		var totalBytes int64
		for i := 0; i < simChunks; i++ {
			chunk := make([]byte, simChunkBytes)
			if _, err := rand.Read(chunk); err != nil {
				return fmt.Errorf("generate chunk %d: %w", i, err)
			}
			if err := uploadChunk(sessionID, i, chunk); err != nil {
				return fmt.Errorf("upload chunk %d: %w", i, err)
			}
			totalBytes += int64(len(chunk))
			_ = bar.Add(1)
		}

		color.Cyan("→ submitting")
		if err := postJSON(fmt.Sprintf("%s/r/%s/submit", baseURL, sessionID), struct{}{}, nil); err != nil {
			return fmt.Errorf("submit: %w", err)
		}

		if err := postJSON(fmt.Sprintf("%s/r/%s/complete", baseURL, sessionID), httpapi.CompleteRequest{
			ChunksCount:     simChunks,
			DurationSeconds: float64(simChunks * 45),
			MimeType:        simMimeType,
			FileSizeBytes:   totalBytes,
		}, nil); err != nil {
			return fmt.Errorf("complete: %w", err)
		}

		color.Green("✓ recording simulated: %d chunks, %d bytes, now processing", simChunks, totalBytes)
		return nil
	},
}

func postJSON(url string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(rootCtx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(payload))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func uploadChunk(sessionID string, index int, data []byte) error {
	url := fmt.Sprintf("%s/r/%s/chunks/%d", baseURL, sessionID, index)
	req, err := http.NewRequestWithContext(rootCtx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", simMimeType)
	req.Header.Set("X-Chunks-Total", fmt.Sprintf("%d", simChunks))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(payload))
	}
	return nil
}

func init() {
	simulateCmd.Flags().IntVar(&simChunks, "chunks", 3, "number of chunks to upload")
	simulateCmd.Flags().IntVar(&simChunkBytes, "chunk-bytes", 256*1024, "bytes per chunk")
	simulateCmd.Flags().StringVar(&simMimeType, "mime-type", "audio/mp4;codecs=mp4a.40.2", "negotiated container/codec")
	simulateCmd.Flags().StringVar(&simFrom, "from", "pending", "status the session is expected to be in")
	rootCmd.AddCommand(simulateCmd)
}
