package cmd

import (
	"echoes/server"

	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动 echoes 服务",
	Long:  `启动 HTTP/WebSocket 服务，接收听众位置并驱动回声播放。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if serveAddr != "" {
			cfg.HTTPAddr = serveAddr
		}
		return server.Start(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&serveAddr, "addr", "a", "", "监听地址，覆盖 HTTP_ADDR")
}
