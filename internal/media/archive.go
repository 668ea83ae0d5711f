// Package media handles voice notes and photos: archiving the original to
// S3, transcribing audio and forwarding invoice images.
package media

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/wolfman30/fieldhand/internal/dispatch"
	"github.com/wolfman30/fieldhand/pkg/logging"
)

// S3API is the subset of the S3 client used by Archive.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Archive stores original media so handlers can refer to it after the
// provider's download URL has expired.
type Archive struct {
	bucket    string
	s3Client  S3API
	presigner presigner
	urlTTL    time.Duration
	logger    *logging.Logger
	now       func() time.Time
}

// NewArchive creates an Archive. If bucket is empty, Put is a no-op.
func NewArchive(client *s3.Client, bucket string, logger *logging.Logger) *Archive {
	a := newArchive(nil, nil, bucket, logger)
	if client != nil {
		a.s3Client = client
		a.presigner = s3.NewPresignClient(client)
	}
	return a
}

func newArchive(client S3API, p presigner, bucket string, logger *logging.Logger) *Archive {
	if logger == nil {
		logger = logging.Default()
	}
	return &Archive{
		bucket:    bucket,
		s3Client:  client,
		presigner: p,
		urlTTL:    time.Hour,
		logger:    logger,
		now:       time.Now,
	}
}

// Enabled returns true if archival is configured.
func (a *Archive) Enabled() bool {
	return a != nil && a.bucket != "" && a.s3Client != nil
}

// Stored identifies an archived object.
type Stored struct {
	Key string
	URL string
}

// Put writes data under a key derived from the message and returns the key
// with a presigned download URL when presigning is available.
func (a *Archive) Put(ctx context.Context, msg dispatch.InboundMessage, data []byte, contentType string) (Stored, error) {
	if !a.Enabled() {
		return Stored{}, nil
	}
	key := objectKey(msg, contentType, a.now().UTC())
	_, err := a.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"phone":   msg.Phone,
			"channel": msg.Channel,
		},
	})
	if err != nil {
		return Stored{}, fmt.Errorf("media: s3 put %s: %w", key, err)
	}
	a.logger.Info("archived media", "phone", msg.Phone, "s3_key", key, "bytes", len(data))

	stored := Stored{Key: key}
	if a.presigner != nil {
		req, err := a.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(a.bucket),
			Key:    aws.String(key),
		}, s3.WithPresignExpires(a.urlTTL))
		if err != nil {
			return stored, fmt.Errorf("media: presign %s: %w", key, err)
		}
		stored.URL = req.URL
	}
	return stored, nil
}

func objectKey(msg dispatch.InboundMessage, contentType string, at time.Time) string {
	id := msg.ProviderMessageID
	if id == "" {
		id = msg.MediaRef
	}
	id = strings.NewReplacer("/", "_", ".", "_", ":", "_").Replace(id)
	return fmt.Sprintf("media/v1/%s/%d/%02d/%02d/%s%s",
		msg.Phone, at.Year(), at.Month(), at.Day(), id, extension(contentType))
}

func extension(contentType string) string {
	base := baseMIME(contentType)
	switch base {
	case "audio/ogg":
		return ".ogg"
	case "image/jpeg":
		return ".jpg"
	}
	if exts, err := mime.ExtensionsByType(base); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

// baseMIME strips parameters such as "; codecs=opus".
func baseMIME(contentType string) string {
	if media, _, err := mime.ParseMediaType(contentType); err == nil {
		return media
	}
	return strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
}
