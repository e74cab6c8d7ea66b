// Package archive copies call recordings from the telephony provider into
// durable S3 storage.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sethvargo/go-retry"
)

// maxRecordingBytes bounds a downloaded recording.
const maxRecordingBytes = 64 << 20

// ObjectPutter is the slice of the S3 API the archiver needs.
// *s3.Client satisfies it.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Options configures an Archiver.
type Options struct {
	Bucket     string
	Prefix     string        // object key prefix, e.g. "recordings/"
	AccountSID string        // provider API credentials for the download
	AuthToken  string        //
	Attempts   int           // total attempts (default 3)
	RetryDelay time.Duration // delay between attempts (default 5s)
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Archiver downloads a recording from the telephony provider and re-uploads
// it to S3 with a fixed number of retries. Failure is non-fatal to call
// finalization; callers log and move on.
type Archiver struct {
	s3         ObjectPutter
	opts       Options
	httpClient *http.Client
	logger     *slog.Logger
}

// New builds an Archiver over an S3 client.
func New(putter ObjectPutter, opts Options) *Archiver {
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Second
	}
	if opts.Prefix == "" {
		opts.Prefix = "recordings/"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{s3: putter, opts: opts, httpClient: httpClient, logger: logger}
}

// Archive downloads the recording at sourceURL and uploads it to S3,
// returning the durable s3:// URL. The whole download-and-upload is
// attempted up to the configured number of times with a fixed delay;
// recordings are often not ready the instant the status callback fires.
func (a *Archiver) Archive(ctx context.Context, callSID, sourceURL string) (string, error) {
	var url string
	backoff := retry.WithMaxRetries(uint64(a.opts.Attempts-1), retry.NewConstant(a.opts.RetryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		audio, err := a.download(ctx, sourceURL)
		if err != nil {
			a.logger.Warn("recording download failed, will retry",
				"call_sid", callSID, "error", err)
			return retry.RetryableError(err)
		}
		url, err = a.upload(ctx, callSID, audio)
		if err != nil {
			a.logger.Warn("recording upload failed, will retry",
				"call_sid", callSID, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("archive recording for %s: %w", callSID, err)
	}
	a.logger.Info("recording archived", "call_sid", callSID, "url", url)
	return url, nil
}

func (a *Archiver) download(ctx context.Context, sourceURL string) ([]byte, error) {
	// The provider serves MP3 when the URL carries the extension.
	if !strings.HasSuffix(sourceURL, ".mp3") {
		sourceURL += ".mp3"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, err
	}
	if a.opts.AccountSID != "" {
		req.SetBasicAuth(a.opts.AccountSID, a.opts.AuthToken)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download recording: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download recording: HTTP %d", resp.StatusCode)
	}
	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxRecordingBytes))
	if err != nil {
		return nil, fmt.Errorf("read recording body: %w", err)
	}
	return audio, nil
}

func (a *Archiver) upload(ctx context.Context, callSID string, audio []byte) (string, error) {
	key := a.opts.Prefix + callSID + ".mp3"
	_, err := a.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(a.opts.Bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(audio),
		ContentType:          aws.String("audio/mpeg"),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
		Metadata: map[string]string{
			"call_sid":    callSID,
			"uploaded_at": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return "", fmt.Errorf("put s3 object %s: %w", key, err)
	}
	return fmt.Sprintf("s3://%s/%s", a.opts.Bucket, key), nil
}
