package media

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"

	"github.com/wolfman30/fieldhand/internal/dispatch"
	"github.com/wolfman30/fieldhand/internal/llm"
	"github.com/wolfman30/fieldhand/pkg/logging"
)

// Downloader fetches provider media by id.
type Downloader interface {
	DownloadMedia(ctx context.Context, mediaID string) ([]byte, string, error)
}

// audioModel turns audio bytes into text.
type audioModel interface {
	transcribe(ctx context.Context, mimeType string, data []byte) (string, error)
}

const transcriptionPrompt = "Transcribe this voice note from a farm worker exactly as spoken, in the original language. " +
	"Return only the transcript with no commentary. If there is no intelligible speech, return an empty response."

const msgTranscriptionFailed = "Sorry, I couldn't understand that voice note. Please try again or send it as text."

var ErrEmptyTranscript = errors.New("media: empty transcript")

// GeminiTranscriber implements dispatch.Transcriber with Gemini's audio
// understanding. On failure it tells the user itself.
type GeminiTranscriber struct {
	downloader Downloader
	model      audioModel
	messenger  dispatch.Messenger
	archive    *Archive
	logger     *logging.Logger
}

func NewGeminiTranscriber(gemini *llm.GeminiClient, modelID string, downloader Downloader, messenger dispatch.Messenger, archive *Archive, logger *logging.Logger) *GeminiTranscriber {
	if gemini == nil {
		panic("media: gemini client cannot be nil")
	}
	if modelID == "" {
		modelID = llm.DefaultGeminiModel
	}
	return newTranscriber(&geminiAudio{client: gemini.Generative(), modelID: modelID}, downloader, messenger, archive, logger)
}

func newTranscriber(model audioModel, downloader Downloader, messenger dispatch.Messenger, archive *Archive, logger *logging.Logger) *GeminiTranscriber {
	if downloader == nil {
		panic("media: downloader cannot be nil")
	}
	if messenger == nil {
		panic("media: messenger cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &GeminiTranscriber{
		downloader: downloader,
		model:      model,
		messenger:  messenger,
		archive:    archive,
		logger:     logger,
	}
}

func (t *GeminiTranscriber) Transcribe(ctx context.Context, msg dispatch.InboundMessage) (string, error) {
	text, err := t.transcribe(ctx, msg)
	if err != nil {
		if sendErr := t.messenger.SendText(ctx, msg.Phone, msgTranscriptionFailed); sendErr != nil {
			t.logger.Warn("media: failed to notify transcription failure", "phone", msg.Phone, "error", sendErr)
		}
		return "", err
	}
	t.logger.Debug("voice note transcribed", "phone", msg.Phone, "chars", len(text))
	return text, nil
}

func (t *GeminiTranscriber) transcribe(ctx context.Context, msg dispatch.InboundMessage) (string, error) {
	if msg.MediaRef == "" {
		return "", errors.New("media: audio message has no media reference")
	}
	data, mimeType, err := t.downloader.DownloadMedia(ctx, msg.MediaRef)
	if err != nil {
		return "", fmt.Errorf("media: download audio: %w", err)
	}
	if mimeType == "" {
		mimeType = msg.MediaMIME
	}
	if _, err := t.archive.Put(ctx, msg, data, mimeType); err != nil {
		t.logger.Warn("media: failed to archive voice note", "phone", msg.Phone, "error", err)
	}

	text, err := t.model.transcribe(ctx, baseMIME(mimeType), data)
	if err != nil {
		return "", fmt.Errorf("media: transcribe: %w", err)
	}
	if text = strings.TrimSpace(text); text == "" {
		return "", ErrEmptyTranscript
	}
	return text, nil
}

type geminiAudio struct {
	client  *genai.Client
	modelID string
}

func (g *geminiAudio) transcribe(ctx context.Context, mimeType string, data []byte) (string, error) {
	model := g.client.GenerativeModel(g.modelID)
	model.SetTemperature(0)
	resp, err := model.GenerateContent(ctx, genai.Blob{MIMEType: mimeType, Data: data}, genai.Text(transcriptionPrompt))
	if err != nil {
		return "", err
	}
	return llm.CandidateText(resp)
}
