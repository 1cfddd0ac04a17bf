package artifact

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/HydJing/conveyor/internal/domain"
)

// MinioConfig — параметры подключения к объектному хранилищу.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioConfigFromEnv читает конфигурацию из переменных окружения
// CONVEYOR_MINIO_*.
func MinioConfigFromEnv() MinioConfig {
	return MinioConfig{
		Endpoint:  envOr("CONVEYOR_MINIO_ENDPOINT", "localhost:9000"),
		AccessKey: envOr("CONVEYOR_MINIO_ACCESS_KEY", "conveyor"),
		SecretKey: envOr("CONVEYOR_MINIO_SECRET_KEY", "conveyor-secret"),
		Bucket:    envOr("CONVEYOR_MINIO_BUCKET", "conveyor-artifacts"),
		UseSSL:    os.Getenv("CONVEYOR_MINIO_USE_SSL") == "true",
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// MinioStore — Store поверх S3-совместимого объектного хранилища.
//
// Ключи объектов: runs/<runID>/artifacts/<name>. Удаление run'а —
// листинг по префиксу и удаление всех объектов.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore создаёт MinioStore и убеждается, что bucket существует.
func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("minio bucket is required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

func objectKey(runID uuid.UUID, name string) string {
	return fmt.Sprintf("runs/%s/artifacts/%s", runID, name)
}

func runPrefix(runID uuid.UUID) string {
	return fmt.Sprintf("runs/%s/artifacts/", runID)
}

func (s *MinioStore) Put(ctx context.Context, runID, executionID uuid.UUID, name string, body io.Reader, size int64) (domain.Artifact, error) {
	key := objectKey(runID, name)

	// Неизменяемость: существующий объект не перезаписываем
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return domain.Artifact{}, fmt.Errorf("%w: %s in run %s", ErrAlreadyExists, name, runID)
	}

	info, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
		UserMetadata: map[string]string{
			"execution-id": executionID.String(),
		},
	})
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("put artifact %s: %w", key, err)
	}

	return domain.Artifact{
		Name:        name,
		RunID:       runID,
		ExecutionID: executionID,
		Ref:         fmt.Sprintf("s3://%s/%s", s.bucket, key),
		Size:        info.Size,
		CreatedAt:   time.Now(),
	}, nil
}

func (s *MinioStore) Get(ctx context.Context, runID uuid.UUID, name string) (io.ReadCloser, domain.Artifact, error) {
	key := objectKey(runID, name)

	stat, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return nil, domain.Artifact{}, fmt.Errorf("%w: %s in run %s", ErrNotFound, name, runID)
		}
		return nil, domain.Artifact{}, fmt.Errorf("stat artifact %s: %w", key, err)
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, domain.Artifact{}, fmt.Errorf("get artifact %s: %w", key, err)
	}

	meta := domain.Artifact{
		Name:      name,
		RunID:     runID,
		Ref:       fmt.Sprintf("s3://%s/%s", s.bucket, key),
		Size:      stat.Size,
		CreatedAt: stat.LastModified,
	}
	if raw := stat.UserMetadata["Execution-Id"]; raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			meta.ExecutionID = id
		}
	}

	return obj, meta, nil
}

func (s *MinioStore) List(ctx context.Context, runID uuid.UUID) ([]domain.Artifact, error) {
	prefix := runPrefix(runID)

	var out []domain.Artifact
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list artifacts of run %s: %w", runID, obj.Err)
		}
		out = append(out, domain.Artifact{
			Name:      strings.TrimPrefix(obj.Key, prefix),
			RunID:     runID,
			Ref:       fmt.Sprintf("s3://%s/%s", s.bucket, obj.Key),
			Size:      obj.Size,
			CreatedAt: obj.LastModified,
		})
	}

	return out, nil
}

func (s *MinioStore) DeleteRun(ctx context.Context, runID uuid.UUID) error {
	prefix := runPrefix(runID)

	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return fmt.Errorf("list artifacts of run %s: %w", runID, obj.Err)
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove artifact %s: %w", obj.Key, err)
		}
	}

	return nil
}
