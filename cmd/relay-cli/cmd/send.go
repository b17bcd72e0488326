package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/spf13/cobra"
)

// gatewayClient 连接 relay-server 的 /:apiKey/:chainId 入口
func gatewayClient(cmd *cobra.Command) (*rpc.Client, error) {
	gateway, _ := cmd.Flags().GetString("gateway")
	apiKey, _ := cmd.Flags().GetString("key")
	chainID, _ := cmd.Flags().GetUint64("chain")

	secret := os.Getenv("RELAY_API_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("请通过环境变量 RELAY_API_SECRET 提供 API secret")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("--key 不能为空")
	}

	url := fmt.Sprintf("%s/%s/%d", strings.TrimRight(gateway, "/"), apiKey, chainID)
	return rpc.DialOptions(context.Background(), url, rpc.WithHeader("Authorization", "Bearer "+secret))
}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "通过网关提交交易",
	Long:  `构造 eth_sendTransaction 请求并发送到中继网关, 由网关完成 nonce 分配、签名与广播。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		to, _ := cmd.Flags().GetString("to")
		if !common.IsHexAddress(to) {
			return fmt.Errorf("--to 不是合法地址")
		}
		data, _ := cmd.Flags().GetString("data")
		value, _ := cmd.Flags().GetString("value")
		gas, _ := cmd.Flags().GetString("gas")
		maxFee, _ := cmd.Flags().GetString("max-fee")
		priorityFee, _ := cmd.Flags().GetString("priority-fee")

		// 1. 连接网关
		client, err := gatewayClient(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		// 2. 提交
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		var hash string
		err = client.CallContext(ctx, &hash, "eth_sendTransaction", map[string]string{
			"to":                   to,
			"data":                 data,
			"value":                value,
			"gas":                  gas,
			"maxFeePerGas":         maxFee,
			"maxPriorityFeePerGas": priorityFee,
		})
		if err != nil {
			return fmt.Errorf("❌ 提交失败: %w", err)
		}

		fmt.Printf("✅ 提交成功!\n")
		fmt.Printf("Tx Hash: %s\n", hash)
		return nil
	},
}

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "查询网关的签名地址",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := gatewayClient(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		var accounts []string
		if err := client.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
			return err
		}
		for _, a := range accounts {
			fmt.Println(a)
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{sendCmd, accountsCmd} {
		rootCmd.AddCommand(c)
		c.Flags().String("gateway", "http://localhost:8080", "网关地址")
		c.Flags().String("key", "", "API key")
		c.Flags().Uint64("chain", 1, "链 ID")
	}

	sendCmd.Flags().String("to", "", "目标地址")
	sendCmd.Flags().String("data", "0x", "calldata (Hex)")
	sendCmd.Flags().String("value", "0", "转账金额 (wei)")
	sendCmd.Flags().String("gas", "21000", "Gas Limit")
	sendCmd.Flags().String("max-fee", "", "maxFeePerGas (wei)")
	sendCmd.Flags().String("priority-fee", "", "maxPriorityFeePerGas (wei)")
	_ = sendCmd.MarkFlagRequired("to")
	_ = sendCmd.MarkFlagRequired("max-fee")
	_ = sendCmd.MarkFlagRequired("priority-fee")
}
