package storage

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"echoes/config"
	"echoes/core/utils"
	"echoes/core/element"
	"echoes/logger"
	"echoes/model"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// BucketStats 存储桶统计信息
type BucketStats struct {
	TotalObjects int64
	TotalSize    int64
	LastModified time.Time
}

// ObjectInfo 媒体对象信息
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
}

// MediaStore 元素媒体所在的对象存储。实现 player.Resolver：
// 非 URL 的 media_href 被当作对象 key，解析为预签名地址
type MediaStore struct {
	client   *minio.Client
	bucket   string
	expiry   time.Duration
	cacheDir string

	httpClient *http.Client // 下载 http(s) 媒体，nil 时用默认客户端
}

// NewMediaStore 创建客户端，不访问网络
func NewMediaStore(cfg *config.Config) (*MediaStore, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	expiry := cfg.PresignExpiry
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &MediaStore{client: client, bucket: cfg.MinioBucket, expiry: expiry, cacheDir: cfg.MediaCacheDir}, nil
}

// Bucket 返回存储桶名
func (s *MediaStore) Bucket() string { return s.bucket }

// EnsureBucket 检查存储桶，不存在则创建
func (s *MediaStore) EnsureBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	logger.Info("Created media bucket", logger.String("bucket", s.bucket))
	return nil
}

// ObjectKey 把 media_href 规范化为对象 key："/a/b.mp3"、"s3://bucket/a/b.mp3" 都得到 "a/b.mp3"
func (s *MediaStore) ObjectKey(ref string) string {
	ref = strings.TrimSpace(ref)
	if rest, ok := strings.CutPrefix(ref, "s3://"); ok {
		if _, key, found := strings.Cut(rest, "/"); found {
			ref = key
		} else {
			ref = ""
		}
	}
	return strings.TrimLeft(path.Clean("/"+ref), "/")
}

// ResolveURL 返回对象的预签名下载地址
func (s *MediaStore) ResolveURL(ctx context.Context, ref string) (string, error) {
	key := s.ObjectKey(ref)
	if key == "" {
		return "", fmt.Errorf("empty media key for %q", ref)
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", key, err)
	}
	return u.String(), nil
}

// LocalPath 对象在本地缓存目录中的位置
func (s *MediaStore) LocalPath(ref string) string {
	return filepath.Join(s.cacheDir, filepath.FromSlash(s.ObjectKey(ref)))
}

// Download 下载单个对象到缓存目录；大小一致的已有文件直接复用
func (s *MediaStore) Download(ctx context.Context, ref string, size int64) (string, error) {
	local := s.LocalPath(ref)
	if fi, err := os.Stat(local); err == nil && (size <= 0 || fi.Size() == size) {
		return local, nil
	}
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return "", err
	}
	if err := s.client.FGetObject(ctx, s.bucket, s.ObjectKey(ref), local, minio.GetObjectOptions{}); err != nil {
		return "", fmt.Errorf("failed to download %s: %w", ref, err)
	}
	return local, nil
}

// DownloadURL 把 http(s) 媒体缓存到 cacheDir/remote/<host>/<path>
func (s *MediaStore) DownloadURL(ctx context.Context, rawURL string, size int64) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid media url %q", rawURL)
	}
	local := filepath.Join(s.cacheDir, "remote", u.Host, filepath.FromSlash(strings.TrimLeft(path.Clean("/"+u.Path), "/")))
	if fi, err := os.Stat(local); err == nil && (size <= 0 || fi.Size() == size) {
		return local, nil
	}
	if _, err := utils.DownloadFile(ctx, s.httpClient, rawURL, local); err != nil {
		return "", fmt.Errorf("failed to download %s: %w", rawURL, err)
	}
	return local, nil
}

func isWebURL(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

// DownloadCollection 下载 collection 中所有有声元素，写回 LocalPath，返回下载的总字节数。
// 单个元素失败只记录日志，该元素保持无本地副本
func (s *MediaStore) DownloadCollection(ctx context.Context, c *model.Collection) (int64, error) {
	var total int64
	for i := range c.Echoes {
		for j := range c.Echoes[i].Elements {
			if err := ctx.Err(); err != nil {
				return total, err
			}
			el := &c.Echoes[i].Elements[j]
			if el.MediaHref == "" {
				continue
			}
			var (
				local string
				err   error
			)
			if isWebURL(el.MediaHref) {
				local, err = s.DownloadURL(ctx, el.MediaHref, el.SizeBytes)
			} else {
				local, err = s.Download(ctx, el.MediaHref, el.SizeBytes)
			}
			if err != nil {
				logger.Warn("Failed to download element media",
					logger.EchoID(c.Echoes[i].ID),
					logger.String("elementId", el.ID),
					logger.ErrorField(err))
				continue
			}
			el.LocalPath = local
			total += el.SizeBytes
		}
	}
	return total, nil
}

// List 列出前缀下的媒体对象
func (s *MediaStore) List(ctx context.Context, prefix string) ([]ObjectInfo, *BucketStats, error) {
	stats := &BucketStats{}
	var objects []ObjectInfo
	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if object.Err != nil {
			return nil, nil, fmt.Errorf("failed to list objects: %w", object.Err)
		}
		stats.TotalObjects++
		stats.TotalSize += object.Size
		if object.LastModified.After(stats.LastModified) {
			stats.LastModified = object.LastModified
		}
		objects = append(objects, ObjectInfo{
			Key:          object.Key,
			Size:         object.Size,
			LastModified: object.LastModified,
			ContentType:  contentTypeOf(object.Key, object.ContentType),
		})
	}
	return objects, stats, nil
}

// contentTypeOf 对象没有 ContentType 时按扩展名推断
func contentTypeOf(key, given string) string {
	if given != "" {
		return given
	}
	switch element.CodecOf(key) {
	case "mp3":
		return "audio/mpeg"
	case "wav", "wave":
		return "audio/wav"
	case "flac":
		return "audio/flac"
	case "ogg", "oga":
		return "audio/ogg"
	}
	return "application/octet-stream"
}

// FormatSize 格式化文件大小
func FormatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
