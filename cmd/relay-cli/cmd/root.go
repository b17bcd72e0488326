package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootCmd 代表基础命令，没有子命令时直接调用
var rootCmd = &cobra.Command{
	Use:   "relay-cli",
	Short: "交易中继网关运维工具",
	Long: `relay-server 的配套命令行工具。
支持生成签名私钥 / 助记词、加密 Keystore、生成 API key、
通过网关提交交易以及订阅提交事件。`,
	SilenceUsage: true,
}

// Execute 将所有子命令添加到根命令并设置标志
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
