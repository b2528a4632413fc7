package cmd

import (
	"errors"
	"fmt"
	"time"

	"echoes/server"

	"github.com/spf13/cobra"
)

var (
	tokenListener string
	tokenTTL      time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "签发听众令牌",
	Long:  `使用 JWT_SECRET 为指定听众签发访问令牌，客户端通过 Authorization 头或 ?token= 携带。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		auth := server.NewAuthenticator(cfg.JWTSecret)
		if auth == nil {
			return errors.New("JWT_SECRET is not set")
		}
		token, err := auth.IssueToken(tokenListener, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVarP(&tokenListener, "listener", "l", "", "听众 ID")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "令牌有效期")
	_ = tokenCmd.MarkFlagRequired("listener")
}
