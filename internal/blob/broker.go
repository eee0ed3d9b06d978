package blob

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"mediascribe/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrNotFound means the requested object does not exist in the bucket.
var ErrNotFound = errors.New("object not found")

// Presign lifetimes per upload kind.
const (
	singlePutTTL = time.Hour
	multipartTTL = 24 * time.Hour
	downloadTTL  = time.Hour
)

// UploadTicket is everything a client needs to upload one object directly
// to storage.
type UploadTicket struct {
	IsMultipart bool     `json:"is_multipart"`
	Key         string   `json:"file_key"`
	PublicURL   string   `json:"file_url,omitempty"`
	PutURL      string   `json:"upload_url,omitempty"`
	UploadID    string   `json:"upload_id,omitempty"`
	PartURLs    []string `json:"part_urls,omitempty"`
	CompleteURL string   `json:"complete_url,omitempty"`
	AbortURL    string   `json:"abort_url,omitempty"`
	PartSize    int64    `json:"part_size,omitempty"`
}

// Config holds S3/R2 connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	PublicURL string // optional public base URL (e.g. https://pub-xxx.r2.dev)
}

// Broker mints presigned upload/download URLs and fetches object bytes.
// It never retries; retry policy belongs to the caller.
type Broker struct {
	client     *s3.Client
	presign    *s3.PresignClient
	bucket     string
	endpoint   string
	region     string
	publicURL  string
	httpClient *http.Client

	creds  aws.CredentialsProvider
	signer *v4.Signer

	// injectable for deterministic key generation in tests
	now     func() time.Time
	randHex func(n int) string
}

// NewBroker creates a broker against an S3-compatible endpoint.
func NewBroker(ctx context.Context, cfg Config) (*Broker, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey, cfg.SecretKey, "",
		)),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // R2 requires path-style addressing
		}
	})

	slog.Info("Blob broker initialized", "bucket", cfg.Bucket, "endpoint", cfg.Endpoint)
	return &Broker{
		client:     client,
		presign:    s3.NewPresignClient(client),
		bucket:     cfg.Bucket,
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		region:     awsCfg.Region,
		publicURL:  strings.TrimRight(cfg.PublicURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Minute},
		creds:      awsCfg.Credentials,
		signer:     v4.NewSigner(),
		now:        time.Now,
		randHex:    randomHex,
	}, nil
}

// NewBrokerFromEnv creates a broker from the R2_* environment variables.
func NewBrokerFromEnv(ctx context.Context) (*Broker, error) {
	if config.R2Bucket == "" {
		return nil, fmt.Errorf("R2_BUCKET_NAME environment variable is required")
	}
	return NewBroker(ctx, Config{
		Endpoint:  config.R2Endpoint,
		AccessKey: config.R2AccessKey,
		SecretKey: config.R2SecretKey,
		Bucket:    config.R2Bucket,
		PublicURL: config.R2PublicURL,
	})
}

func randomHex(n int) string {
	buf := make([]byte, (n+1)/2)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failure is not recoverable
		panic(fmt.Sprintf("crypto/rand: %v", err))
	}
	return hex.EncodeToString(buf)[:n]
}

// PublicObjectURL returns the public URL for a key, or "" when the bucket
// has no public base URL configured.
func (b *Broker) PublicObjectURL(key string) string {
	if b.publicURL == "" {
		return ""
	}
	return b.publicURL + "/" + key
}

// MintUpload issues an upload ticket for a new object. Size zero or negative
// means unknown and always yields a single presigned PUT.
func (b *Broker) MintUpload(ctx context.Context, fileName, contentType string, size int64) (*UploadTicket, error) {
	key := ObjectKey(fileName, b.now(), b.randHex(12))

	if size <= 0 || size <= config.SinglePutThreshold {
		put, err := b.presign.PresignPutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(b.bucket),
			Key:         aws.String(key),
			ContentType: aws.String(contentType),
		}, func(opts *s3.PresignOptions) {
			opts.Expires = singlePutTTL
		})
		if err != nil {
			return nil, fmt.Errorf("failed to presign PUT for %s: %w", key, err)
		}
		return &UploadTicket{
			Key:       key,
			PutURL:    put.URL,
			PublicURL: b.PublicObjectURL(key),
		}, nil
	}

	numParts, err := NumParts(size)
	if err != nil {
		return nil, err
	}
	partSize := PartSizeFor(size)

	created, err := b.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart upload for %s: %w", key, err)
	}
	uploadID := aws.ToString(created.UploadId)

	partURLs := make([]string, 0, numParts)
	for part := 1; part <= numParts; part++ {
		presigned, err := b.presign.PresignUploadPart(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(b.bucket),
			Key:        aws.String(key),
			UploadId:   aws.String(uploadID),
			PartNumber: aws.Int32(int32(part)),
		}, func(opts *s3.PresignOptions) {
			opts.Expires = multipartTTL
		})
		if err != nil {
			return nil, fmt.Errorf("failed to presign part %d for %s: %w", part, key, err)
		}
		partURLs = append(partURLs, presigned.URL)
	}

	completeURL, err := b.presignMultipart(ctx, http.MethodPost, key, uploadID, multipartTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to presign complete for %s: %w", key, err)
	}
	abortURL, err := b.presignMultipart(ctx, http.MethodDelete, key, uploadID, multipartTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to presign abort for %s: %w", key, err)
	}

	slog.Info("Multipart upload minted", "key", key, "parts", numParts, "part_size", partSize)
	return &UploadTicket{
		IsMultipart: true,
		Key:         key,
		UploadID:    uploadID,
		PartURLs:    partURLs,
		CompleteURL: completeURL,
		AbortURL:    abortURL,
		PartSize:    partSize,
		PublicURL:   b.PublicObjectURL(key),
	}, nil
}

// unsignedPayload lets a presigned URL carry any request body, which the
// CompleteMultipartUpload part manifest requires.
const unsignedPayload = "UNSIGNED-PAYLOAD"

// presignMultipart signs a CompleteMultipartUpload (POST) or
// AbortMultipartUpload (DELETE) URL with the raw SigV4 presigner; the s3
// presign client does not cover these two operations.
func (b *Broker) presignMultipart(ctx context.Context, method, key, uploadID string, ttl time.Duration) (string, error) {
	creds, err := b.creds.Retrieve(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to retrieve credentials: %w", err)
	}

	query := url.Values{}
	query.Set("uploadId", uploadID)
	query.Set("X-Amz-Expires", strconv.FormatInt(int64(ttl/time.Second), 10))

	req, err := http.NewRequestWithContext(ctx, method, b.objectURL(key)+"?"+query.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to build %s request: %w", method, err)
	}

	signed, _, err := b.signer.PresignHTTP(ctx, creds, req, unsignedPayload, "s3", b.region, b.now())
	if err != nil {
		return "", fmt.Errorf("failed to sign %s %s: %w", method, key, err)
	}
	return signed, nil
}

// objectURL is the path-style address raw signing targets. Virtual-host
// addressing is only used when no custom endpoint is configured.
func (b *Broker) objectURL(key string) string {
	if b.endpoint != "" {
		return b.endpoint + "/" + b.bucket + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", b.bucket, b.region, key)
}

// DownloadURL returns a presigned GET URL for a key, or the public URL when
// the bucket has one configured.
func (b *Broker) DownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if u := b.PublicObjectURL(key); u != "" {
		return u, nil
	}
	if ttl <= 0 {
		ttl = downloadTTL
	}
	presigned, err := b.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = ttl
	})
	if err != nil {
		return "", fmt.Errorf("failed to presign GET for %s: %w", key, err)
	}
	return presigned.URL, nil
}

// Fetch downloads an object into memory.
func (b *Broker) Fetch(ctx context.Context, key string) ([]byte, error) {
	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, wrapGetError(key, err)
	}
	defer result.Body.Close()

	content, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return content, nil
}

// FetchToFile streams an object to a local file without buffering it in
// memory. On storage failure it falls back to a plain HTTP GET of the public
// URL when one is configured.
func (b *Broker) FetchToFile(ctx context.Context, key, path string) error {
	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if u := b.PublicObjectURL(key); u != "" {
			slog.Warn("Storage fetch failed, falling back to public URL", "key", key, "error", err)
			return b.FetchURLToFile(ctx, u, path)
		}
		return wrapGetError(key, err)
	}
	defer result.Body.Close()

	return writeStream(result.Body, path)
}

// FetchURLToFile streams an arbitrary HTTP URL to a local file.
func (b *Broker) FetchURLToFile(ctx context.Context, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("download %s: %w", url, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download %s: HTTP %d", url, resp.StatusCode)
	}
	return writeStream(resp.Body, path)
}

func writeStream(body io.Reader, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	if _, err := io.Copy(file, body); err != nil {
		file.Close()
		os.Remove(path)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return nil
}

func wrapGetError(key string, err error) error {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return fmt.Errorf("object %s: %w", key, ErrNotFound)
	}
	return fmt.Errorf("failed to get object %s: %w", key, err)
}
