package cmd

import (
	"context"
	"fmt"
	"time"

	"echoes/cache"
	"echoes/logger"

	"github.com/spf13/cobra"
)

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Redis连接测试",
	Long:  `测试Redis连接是否成功，并进行基本读写操作。`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Redis配置: %s:%s, DB: %d\n", cfg.RedisHost, cfg.RedisPort, cfg.RedisDB)

		if err := cache.ConnectRedis(cfg); err != nil {
			logger.Fatal("无法连接到Redis", logger.ErrorField(err))
		}
		defer cache.CloseRedis()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := cache.TestRedis(ctx); err != nil {
			logger.Fatal("Redis读写测试失败", logger.ErrorField(err))
		}
		fmt.Println("Redis连接测试成功！")
	},
}

func init() {
	rootCmd.AddCommand(redisCmd)
}
