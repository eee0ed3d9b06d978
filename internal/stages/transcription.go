package stages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"mediascribe/internal/ai"
	"mediascribe/internal/config"
	"mediascribe/internal/media"
	"mediascribe/internal/queue"
	"mediascribe/internal/store"
)

// TranscriptionHandler downloads the uploaded media, prepares it with
// ffmpeg, transcribes it chunk by chunk and extracts section timestamps.
type TranscriptionHandler struct {
	store   RecordStore
	blob    ObjectFetcher
	speech  ai.SpeechAdapter
	llm     ai.LLMAdapter
	queue   Enqueuer
	toolkit media.Toolkit

	tmpDir         string
	tokens         []string
	chunkThreshold int64
}

// NewTranscriptionHandler wires the transcription stage. llm extracts the
// timestamp sections from the finished transcript.
func NewTranscriptionHandler(recordStore RecordStore, blob ObjectFetcher, speech ai.SpeechAdapter,
	llm ai.LLMAdapter, enqueuer Enqueuer, toolkit media.Toolkit) *TranscriptionHandler {
	return &TranscriptionHandler{
		store:   recordStore,
		blob:    blob,
		speech:  speech,
		llm:     llm,
		queue:   enqueuer,
		toolkit: toolkit,

		tmpDir:         config.TmpDir,
		tokens:         config.HallucinationTokens,
		chunkThreshold: config.ChunkThresholdBytes,
	}
}

func (h *TranscriptionHandler) Queue() string    { return queue.QueueTranscription }
func (h *TranscriptionHandler) Step() store.Step { return store.StepTranscription }

// Handle runs the transcription stage for one record.
func (h *TranscriptionHandler) Handle(ctx context.Context, job *queue.Job, progress Progress) error {
	rec, err := h.store.Get(ctx, job.RecordID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("record %s: %w", job.RecordID, ErrPoisonInput)
		}
		return err
	}

	tmpDir, err := os.MkdirTemp(h.tmpDir, "transcribe-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			slog.Warn("Failed to remove temp dir", "path", tmpDir, "error", err)
		}
	}()

	progress.Report(store.StepDownload, 10, "downloading source media")
	localPath, err := h.download(ctx, job, rec, tmpDir)
	if err != nil {
		return err
	}

	audioPath, err := h.prepareAudio(ctx, localPath, tmpDir, progress)
	if err != nil {
		return err
	}

	chunks, err := h.chunk(ctx, audioPath, tmpDir)
	if err != nil {
		return err
	}
	progress.Report(store.StepTranscription, 40, fmt.Sprintf("transcribing %d chunk(s)", len(chunks)))

	parts := make([]string, 0, len(chunks))
	rejected := 0
	for i, chunk := range chunks {
		text, err := h.speech.Transcribe(ctx, chunk, transcriptionPrompt)
		if err != nil {
			return fmt.Errorf("transcription of chunk %d/%d failed: %w", i+1, len(chunks), err)
		}
		filtered, wasRejected := FilterChunk(text, h.tokens)
		if wasRejected {
			rejected++
			slog.Warn("Hallucinated chunk replaced", "record_id", job.RecordID, "chunk", i+1)
		}
		parts = append(parts, strings.TrimSpace(filtered))

		if len(chunks) > 1 {
			progress.Report(store.StepTranscription, 40+40*(i+1)/len(chunks), "")
		}
	}

	if WhollyUntranscribable(parts) {
		return fmt.Errorf("all %d chunk(s) rejected: %w", len(chunks), ErrHallucinated)
	}
	transcript := strings.Join(parts, "\n\n")

	progress.Report(store.StepTimestamps, 85, "extracting timestamps")
	timestamps := h.extractTimestamps(ctx, job.RecordID, transcript)

	if err := h.store.SaveTranscript(ctx, job.RecordID, transcript, timestamps); err != nil {
		return err
	}
	progress.Report(store.StepTranscription, 95, "")

	if err := h.queue.Enqueue(ctx, queue.QueueSummary, nextJob(job), queue.EnqueueOptions{}); err != nil {
		// the record is coherently TRANSCRIBED; an operator retry resumes here
		return fmt.Errorf("transcript saved but summary enqueue failed: %w", err)
	}
	return nil
}

// download resolves the object source, preferring the storage key and
// falling back to the public file URL.
func (h *TranscriptionHandler) download(ctx context.Context, job *queue.Job, rec *store.Record, tmpDir string) (string, error) {
	fileKey := job.FileKey
	if fileKey == "" {
		fileKey = rec.FileKey
	}
	fileURL := job.FileURL
	if fileURL == "" {
		fileURL = rec.FileURL
	}

	name := rec.FileName
	if name == "" {
		name = path.Base(fileKey)
	}
	localPath := filepath.Join(tmpDir, "source"+strings.ToLower(filepath.Ext(name)))

	switch {
	case fileKey != "":
		if err := h.blob.FetchToFile(ctx, fileKey, localPath); err != nil {
			return "", fmt.Errorf("failed to fetch %s: %w", fileKey, err)
		}
	case fileURL != "":
		if err := h.blob.FetchURLToFile(ctx, fileURL, localPath); err != nil {
			return "", fmt.Errorf("failed to fetch %s: %w", fileURL, err)
		}
	default:
		return "", fmt.Errorf("record %s has no file key or URL: %w", job.RecordID, ErrPoisonInput)
	}
	return localPath, nil
}

// prepareAudio extracts the audio track from video containers and
// normalizes it to 16 kHz mono WAV. Normalization failures are tolerated.
func (h *TranscriptionHandler) prepareAudio(ctx context.Context, localPath, tmpDir string, progress Progress) (string, error) {
	audioPath := localPath
	if media.IsVideo(localPath) {
		progress.Report(store.StepDownload, 20, "extracting audio track")
		extracted := filepath.Join(tmpDir, "audio.mp3")
		if err := h.toolkit.ExtractAudio(ctx, localPath, extracted); err != nil {
			return "", fmt.Errorf("failed to extract audio: %w", err)
		}
		audioPath = extracted
	}

	progress.Report(store.StepDownload, 30, "optimizing audio")
	normalized := filepath.Join(tmpDir, "audio.wav")
	if err := h.toolkit.Normalize(ctx, audioPath, normalized); err != nil {
		slog.Warn("Audio optimization failed, continuing with original", "error", err)
		return audioPath, nil
	}
	return normalized, nil
}

// chunk splits large audio into fixed-length segments for transcription.
func (h *TranscriptionHandler) chunk(ctx context.Context, audioPath, tmpDir string) ([]string, error) {
	info, err := os.Stat(audioPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat audio: %w", err)
	}
	if info.Size() <= h.chunkThreshold {
		return []string{audioPath}, nil
	}

	if d, err := h.toolkit.Duration(ctx, audioPath); err != nil {
		slog.Warn("Duration probe failed", "path", audioPath, "error", err)
	} else {
		expected := (int(d.Seconds()) + config.ChunkSeconds - 1) / config.ChunkSeconds
		slog.Info("Splitting audio for transcription",
			"duration", d.Round(time.Second), "expected_chunks", expected)
	}

	chunkDir := filepath.Join(tmpDir, "chunks")
	if err := os.MkdirAll(chunkDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create chunk dir: %w", err)
	}
	chunks, err := h.toolkit.SplitChunks(ctx, audioPath, chunkDir, config.ChunkSeconds)
	if err != nil {
		return nil, fmt.Errorf("failed to split audio: %w", err)
	}
	return chunks, nil
}

// extractTimestamps asks the LLM for section markers and parses whatever
// comes back. Anything unrecoverable stores a null artifact.
func (h *TranscriptionHandler) extractTimestamps(ctx context.Context, recordID, transcript string) *string {
	raw, err := h.llm.Generate(ctx, timestampsPrompt+transcript)
	if err != nil {
		slog.Warn("Timestamp extraction failed, storing null", "record_id", recordID, "error", err)
		return nil
	}
	entries := ParseTimestamps(raw)
	if entries == nil {
		slog.Warn("Timestamp response unparsable, storing null", "record_id", recordID)
		return nil
	}
	return MarshalTimestamps(entries)
}
