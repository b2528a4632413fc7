package cmd

import (
	"context"
	"fmt"
	"time"

	"echoes/logger"
	"echoes/server"
	"echoes/storage"

	"github.com/spf13/cobra"
)

var (
	minioPrefix   string
	minioStats    bool
	minioDownload string
	minioEnsure   bool
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "MinIO媒体桶管理",
	Long:  `查看媒体桶中的音频文件，或为离线播放预先下载某个 collection 的全部媒体。`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		store, err := storage.NewMediaStore(cfg)
		if err != nil {
			logger.Fatal("创建MinIO客户端失败", logger.ErrorField(err))
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		if minioEnsure {
			if err := store.EnsureBucket(ctx, ""); err != nil {
				logger.Fatal("创建存储桶失败", logger.ErrorField(err))
			}
			fmt.Printf("存储桶 %s 已就绪\n", store.Bucket())
		}

		if minioDownload != "" {
			downloadCollection(ctx, store, minioDownload)
			return
		}

		objects, stats, err := store.List(ctx, minioPrefix)
		if err != nil {
			logger.Fatal("列出文件失败", logger.ErrorField(err))
		}
		if !minioStats {
			for _, obj := range objects {
				fmt.Printf("%-60s %10s  %s  %s\n", obj.Key, storage.FormatSize(obj.Size),
					obj.LastModified.Format("2006-01-02 15:04:05"), obj.ContentType)
			}
		}
		fmt.Printf("\n文件总数: %d, 总大小: %s", stats.TotalObjects, storage.FormatSize(stats.TotalSize))
		if !stats.LastModified.IsZero() {
			fmt.Printf(", 最后修改: %s", stats.LastModified.Format("2006-01-02 15:04:05"))
		}
		fmt.Println()
	},
}

func downloadCollection(ctx context.Context, store *storage.MediaStore, id string) {
	backend, err := server.Open(cfg)
	if err != nil {
		logger.Fatal("打开数据源失败", logger.ErrorField(err))
	}
	defer backend.Close()

	c, err := backend.Repo.GetByID(ctx, id)
	if err != nil {
		logger.Fatal("读取 collection 失败", logger.ErrorField(err))
	}
	if c == nil {
		logger.Fatal("collection 不存在", logger.CollectionID(id))
	}

	n, err := store.DownloadCollection(ctx, c)
	if err != nil {
		logger.Fatal("下载媒体失败", logger.CollectionID(id), logger.ErrorField(err))
	}
	fmt.Printf("已下载 %s 到 %s\n", storage.FormatSize(n), cfg.MediaCacheDir)
}

func init() {
	rootCmd.AddCommand(minioCmd)

	minioCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", "", "按前缀过滤文件")
	minioCmd.Flags().BoolVarP(&minioStats, "stats", "s", false, "只显示统计信息")
	minioCmd.Flags().StringVarP(&minioDownload, "download", "d", "", "下载指定 collection 的媒体用于离线播放")
	minioCmd.Flags().BoolVar(&minioEnsure, "ensure-bucket", false, "存储桶不存在时创建")

	minioCmd.Example = `  # 列出所有文件
  echoes minio

  # 按前缀过滤并只看统计
  echoes minio -p "tour/" -s

  # 离线模式前预先下载媒体
  echoes minio -d tour`
}
