// Package blobstore persists image artifact bytes in an S3-compatible
// bucket and issues time-limited download URLs. Objects are optionally
// encrypted at rest with AES-256-GCM; Get decrypts transparently and
// passes through objects written before encryption was enabled.
package blobstore

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/pbkdf2"

	"github.com/local/docpipeline/internal/config"
	"github.com/local/docpipeline/internal/document"
	"github.com/local/docpipeline/internal/metrics"
)

// gcmMagic prefixes every encrypted object.
// Layout: magic(8) + salt(16) + nonce(12) + ciphertext with GCM tag.
const gcmMagic = "GCM3NCR0"

const (
	pbkdf2Iterations = 100000
	saltLen          = 16
)

// Store wraps an S3 bucket holding image blobs.
type Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	signer   *s3.PresignClient
	bucket   string
	password string
	signTTL  time.Duration
}

// New builds the blob store client. With AccessKey/SecretKey set the
// client uses static credentials, otherwise the default AWS chain; a
// non-empty Endpoint points it at an S3-compatible store such as MinIO,
// usually together with PathStyle.
func New(ctx context.Context, cfg config.BlobConfig) (*Store, error) {
	loadOpts := []func(*awscfg.LoadOptions) error{awscfg.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		loadOpts = append(loadOpts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	cli := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	return &Store{
		client:   cli,
		uploader: manager.NewUploader(cli),
		signer:   s3.NewPresignClient(cli),
		bucket:   cfg.Bucket,
		password: cfg.EncryptionPassword,
		signTTL:  cfg.SignTTL,
	}, nil
}

// Key builds the object key for an artifact:
// {document_id}/{page|noPage}_{index}.{ext}.
func Key(a *document.Artifact) string {
	page := "noPage"
	if a.PageNumber != nil {
		page = fmt.Sprintf("%d", *a.PageNumber)
	}
	return fmt.Sprintf("%s/%s_%d.%s", a.DocumentID, page, a.Index, extFor(a.MIME))
}

func extFor(mime string) string {
	switch mime {
	case "image/png":
		return "png"
	case "image/jpeg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/tiff":
		return "tif"
	default:
		return "bin"
	}
}

// Put uploads one blob. The stored ContentType stays the plaintext MIME
// even when the body is encrypted.
func (s *Store) Put(ctx context.Context, key string, data []byte, mime string) error {
	body := data
	meta := map[string]string{}
	if s.password != "" {
		enc, err := encryptGCM(data, s.password)
		if err != nil {
			return fmt.Errorf("failed to encrypt blob: %w", err)
		}
		body = enc
		meta["encrypted"] = "true"
		meta["encryption-format"] = gcmMagic
	}

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(mime),
		Metadata:    meta,
	})
	if err != nil {
		return fmt.Errorf("failed to upload blob %s: %w", key, err)
	}

	metrics.AddBlobBytes(len(body))
	log.Debug().
		Str("key", key).
		Int("size", len(data)).
		Bool("encrypted", s.password != "").
		Msg("uploaded blob")
	return nil
}

// Get downloads one blob, decrypting when the body carries the
// encryption marker.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download blob %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", key, err)
	}

	if !isEncrypted(data) {
		return data, nil
	}
	if s.password == "" {
		return nil, fmt.Errorf("blob %s is encrypted but no password is configured", key)
	}
	plain, err := decryptGCM(data, s.password)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt blob %s: %w", key, err)
	}
	return plain, nil
}

// Sign issues a presigned GET URL. ttl <= 0 falls back to the configured
// default.
func (s *Store) Sign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = s.signTTL
	}
	req, err := s.signer.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("failed to presign blob %s: %w", key, err)
	}
	return req.URL, nil
}

// Ping verifies the bucket is reachable, for health checks.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return err
}

// Delete removes a single object.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete blob %s: %w", key, err)
	}
	return nil
}

// DeleteAll removes every blob stored under a document and returns how
// many went away. Individual delete failures are logged and skipped so
// one stuck object cannot block cleanup.
func (s *Store) DeleteAll(ctx context.Context, documentID string) (int, error) {
	prefix := documentID + "/"
	deleted := 0

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return deleted, fmt.Errorf("failed to list blobs for %s: %w", documentID, err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			if err := s.Delete(ctx, *obj.Key); err != nil {
				log.Warn().Err(err).Str("key", *obj.Key).Msg("blob delete failed during cleanup")
				continue
			}
			deleted++
		}
	}

	log.Info().Str("document_id", documentID).Int("deleted", deleted).Msg("deleted document blobs")
	return deleted, nil
}

func isEncrypted(data []byte) bool {
	return len(data) >= len(gcmMagic) && string(data[:len(gcmMagic)]) == gcmMagic
}

// encryptGCM seals data as magic + salt + nonce + ciphertext.
func encryptGCM(data []byte, password string) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, len(gcmMagic)+len(salt)+len(nonce)+len(data)+gcm.Overhead())
	out = append(out, gcmMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, data, nil), nil
}

// decryptGCM opens data produced by encryptGCM.
func decryptGCM(data []byte, password string) ([]byte, error) {
	header := len(gcmMagic) + saltLen
	if len(data) < header {
		return nil, fmt.Errorf("encrypted blob too short: %d bytes", len(data))
	}

	salt := data[len(gcmMagic):header]
	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}

	nonceEnd := header + gcm.NonceSize()
	if len(data) < nonceEnd+gcm.Overhead() {
		return nil, fmt.Errorf("encrypted blob too short: %d bytes", len(data))
	}
	nonce := data[header:nonceEnd]

	plain, err := gcm.Open(nil, nonce, data[nonceEnd:], nil)
	if err != nil {
		return nil, fmt.Errorf("GCM decryption failed: %w", err)
	}
	return plain, nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
