package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/zk-express/agent-engine/internal/config"
	"github.com/zk-express/agent-engine/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrArchiveConfig 归档配置不完整
var ErrArchiveConfig = errors.New("archive config invalid")

// Archiver 分配记录归档器
type Archiver interface {
	// ArchiveAllocations 上传一批记录，返回对象位置
	ArchiveAllocations(ctx context.Context, batchID string, records []models.OrderAllocation) (string, error)
}

// NoopArchiver 未启用对象存储时使用，只做标记不上传
type NoopArchiver struct{}

// ArchiveAllocations 不上传
func (NoopArchiver) ArchiveAllocations(context.Context, string, []models.OrderAllocation) (string, error) {
	return "", nil
}

type objectUploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Archiver 以 JSON Lines 形式写入 s3://<bucket>/<prefix>/allocations/YYYY/MM/DD/<batch>.jsonl
type S3Archiver struct {
	bucket   string
	prefix   string
	uploader objectUploader
	now      func() time.Time
}

// NewS3Archiver 创建 S3 归档器，凭证由 SDK 默认链解析
func NewS3Archiver(ctx context.Context, cfg config.ArchiveConfig) (*S3Archiver, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("%w: bucket required", ErrArchiveConfig)
	}
	var loadOpts []func(*awsConfig.LoadOptions) error
	if region := strings.TrimSpace(cfg.Region); region != "" {
		loadOpts = append(loadOpts, awsConfig.WithRegion(region))
	}
	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	return newS3Archiver(bucket, cfg.Prefix, manager.NewUploader(client)), nil
}

func newS3Archiver(bucket, prefix string, uploader objectUploader) *S3Archiver {
	return &S3Archiver{
		bucket:   bucket,
		prefix:   strings.Trim(strings.TrimSpace(prefix), "/"),
		uploader: uploader,
		now:      time.Now,
	}
}

// ArchiveAllocations 上传一批分配记录
func (a *S3Archiver) ArchiveAllocations(ctx context.Context, batchID string, records []models.OrderAllocation) (string, error) {
	if len(records) == 0 {
		return "", nil
	}
	body, err := encodeLines(records)
	if err != nil {
		return "", err
	}
	key := a.objectKey(batchID)
	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(a.bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(body),
		ContentType:          aws.String("application/x-ndjson"),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return "", fmt.Errorf("s3 upload failed: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", a.bucket, key), nil
}

func (a *S3Archiver) objectKey(batchID string) string {
	year, month, day := a.now().UTC().Date()
	return path.Join(a.prefix, "allocations",
		fmt.Sprintf("%04d", year),
		fmt.Sprintf("%02d", int(month)),
		fmt.Sprintf("%02d", day),
		batchID+".jsonl",
	)
}

func encodeLines(records []models.OrderAllocation) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for i := range records {
		if err := encoder.Encode(&records[i]); err != nil {
			return nil, fmt.Errorf("encode allocation %s: %w", records[i].ID, err)
		}
	}
	return buf.Bytes(), nil
}

// New 按配置返回 S3 归档器或空实现
func New(ctx context.Context, cfg config.ArchiveConfig) (Archiver, error) {
	if !cfg.Enabled {
		return NoopArchiver{}, nil
	}
	return NewS3Archiver(ctx, cfg)
}
