package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"readecho/config"
	"readecho/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var minioClient *minio.Client

// InitMinio initializes the MinIO client and ensures the audio bucket exists.
func InitMinio(cfg *config.Config) error {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{Region: cfg.MinioRegion}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		logger.Info("Created MinIO bucket", logger.String("bucket", cfg.MinioBucket))
	}

	minioClient = client
	logger.Info("MinIO client initialized",
		logger.String("endpoint", cfg.MinioEndpoint),
		logger.String("bucket", cfg.MinioBucket))
	return nil
}

// GetMinioClient returns the MinIO client instance.
func GetMinioClient() *minio.Client {
	return minioClient
}

// AudioStore persists rendered audio payloads and hands back durable object
// paths, served to clients via the /audio proxy route or a CDN in front of
// the bucket.
type AudioStore interface {
	PutAudio(ctx context.Context, objectPath string, data []byte, contentType string) (string, error)
	GetAudio(ctx context.Context, objectPath string) ([]byte, error)
	DeleteAudio(ctx context.Context, objectPath string) error
}

type minioAudioStore struct {
	bucket string
}

// NewMinioAudioStore creates an AudioStore over the shared MinIO client.
func NewMinioAudioStore(cfg *config.Config) AudioStore {
	return &minioAudioStore{bucket: cfg.MinioBucket}
}

// PutAudio uploads a rendered audio payload. Overwriting an existing object
// is fine; the object path is derived from the asset key, so a racing write
// stores identical content.
func (s *minioAudioStore) PutAudio(ctx context.Context, objectPath string, data []byte, contentType string) (string, error) {
	if minioClient == nil {
		return "", fmt.Errorf("MinIO client not initialized")
	}
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	_, err := minioClient.PutObject(ctx, s.bucket, objectPath,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("failed to upload audio object %s: %w", objectPath, err)
	}
	return objectPath, nil
}

// GetAudio downloads a rendered audio payload.
func (s *minioAudioStore) GetAudio(ctx context.Context, objectPath string) ([]byte, error) {
	if minioClient == nil {
		return nil, fmt.Errorf("MinIO client not initialized")
	}
	object, err := minioClient.GetObject(ctx, s.bucket, objectPath, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get audio object %s: %w", objectPath, err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio object %s: %w", objectPath, err)
	}
	return data, nil
}

// DeleteAudio removes a stored payload, used by expiry eviction.
func (s *minioAudioStore) DeleteAudio(ctx context.Context, objectPath string) error {
	if minioClient == nil {
		return fmt.Errorf("MinIO client not initialized")
	}
	return minioClient.RemoveObject(ctx, s.bucket, objectPath, minio.RemoveObjectOptions{})
}
