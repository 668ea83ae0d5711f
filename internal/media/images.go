package media

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfman30/fieldhand/internal/dispatch"
	"github.com/wolfman30/fieldhand/internal/identity"
	"github.com/wolfman30/fieldhand/pkg/logging"
)

// Image is a downloaded photo ready for OCR.
type Image struct {
	Data        []byte
	ContentType string
	Caption     string
	ArchiveKey  string
	ArchiveURL  string
}

// OCRSubmitter extracts document data from an image on behalf of actor.
type OCRSubmitter interface {
	SubmitImage(ctx context.Context, actor *identity.Actor, phone string, img Image) (dispatch.Reply, error)
}

// ImageForwarder implements dispatch.ImageHandler: it downloads the photo,
// archives it and forwards it to the OCR endpoint.
type ImageForwarder struct {
	downloader Downloader
	archive    *Archive
	ocr        OCRSubmitter
	logger     *logging.Logger
}

func NewImageForwarder(downloader Downloader, archive *Archive, ocr OCRSubmitter, logger *logging.Logger) *ImageForwarder {
	if downloader == nil {
		panic("media: downloader cannot be nil")
	}
	if ocr == nil {
		panic("media: ocr submitter cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ImageForwarder{downloader: downloader, archive: archive, ocr: ocr, logger: logger}
}

func (f *ImageForwarder) HandleImage(ctx context.Context, req dispatch.ImageRequest) (dispatch.Reply, error) {
	msg := req.Message
	if msg.MediaRef == "" {
		return dispatch.Reply{}, errors.New("media: image message has no media reference")
	}
	data, contentType, err := f.downloader.DownloadMedia(ctx, msg.MediaRef)
	if err != nil {
		return dispatch.Reply{}, fmt.Errorf("media: download image: %w", err)
	}
	if contentType == "" {
		contentType = msg.MediaMIME
	}

	img := Image{Data: data, ContentType: contentType, Caption: msg.Text}
	stored, err := f.archive.Put(ctx, msg, data, contentType)
	if err != nil {
		f.logger.Warn("media: failed to archive image", "phone", msg.Phone, "error", err)
	}
	img.ArchiveKey, img.ArchiveURL = stored.Key, stored.URL

	reply, err := f.ocr.SubmitImage(ctx, req.Actor, msg.Phone, img)
	if err != nil {
		return dispatch.Reply{}, fmt.Errorf("media: submit image: %w", err)
	}
	return reply, nil
}
