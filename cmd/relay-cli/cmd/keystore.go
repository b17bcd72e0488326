package cmd

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"relay-core/internal/service/signer"
	"relay-core/pkg/config"
	"relay-core/pkg/keystore"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var keystoreCmd = &cobra.Command{
	Use:   "keystore",
	Short: "管理加密的签名私钥文件",
}

var keystoreEncryptCmd = &cobra.Command{
	Use:   "encrypt",
	Short: "加密签名私钥并保存为 Keystore 文件",
	Long:  `从终端读取私钥 (Hex) 与密码, 使用 scrypt + AES-GCM 加密后保存, 供 signer.keystore_path 使用。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		outputFile, _ := cmd.Flags().GetString("output")
		light, _ := cmd.Flags().GetBool("light")
		if _, err := os.Stat(outputFile); err == nil {
			return fmt.Errorf("文件 %s 已存在, 请先删除或指定其他文件名", outputFile)
		}

		// 1. 输入私钥
		raw, err := readSecret("输入私钥 (Hex): ")
		if err != nil {
			return err
		}
		key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
		if err != nil {
			return fmt.Errorf("私钥格式错误")
		}

		// 2. 输入密码
		password, err := readSecret("输入密码: ")
		if err != nil {
			return err
		}
		confirm, err := readSecret("确认密码: ")
		if err != nil {
			return err
		}
		if password != confirm {
			return fmt.Errorf("两次输入的密码不一致")
		}
		if len(password) < 8 {
			return fmt.Errorf("密码长度至少需要 8 位")
		}

		// 3. 加密并保存
		params := keystore.StandardScrypt
		if light {
			params = keystore.LightScrypt
		}
		fmt.Println("正在加密保存...")
		k, err := keystore.Encrypt(crypto.FromECDSA(key), password, params)
		if err != nil {
			return fmt.Errorf("加密失败: %w", err)
		}
		addr := crypto.PubkeyToAddress(key.PublicKey)
		k.Address = strings.TrimPrefix(strings.ToLower(addr.Hex()), "0x")
		if err := k.SaveToFile(outputFile); err != nil {
			return fmt.Errorf("保存文件失败: %w", err)
		}

		fmt.Printf("\n✅ Keystore 已保存: %s\n", outputFile)
		fmt.Printf("签名地址: %s\n", addr.Hex())
		fmt.Println("启动网关时通过环境变量 SIGNER_PASSWORD 提供密码。")
		return nil
	},
}

var keystoreAddressCmd = &cobra.Command{
	Use:   "address",
	Short: "解密 Keystore 并显示签名地址",
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		password, err := readSecret("输入密码: ")
		if err != nil {
			return err
		}

		key, _, err := signer.LoadKey(config.SignerConfig{KeystorePath: file, Password: password})
		if err != nil {
			return err
		}
		fmt.Printf("签名地址: %s\n", crypto.PubkeyToAddress(key.PublicKey).Hex())
		return nil
	},
}

// readSecret 从终端读取, 不回显
func readSecret(prompt string) (string, error) {
	fmt.Print(prompt)
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("读取输入失败: %w", err)
	}
	return string(b), nil
}

func init() {
	rootCmd.AddCommand(keystoreCmd)
	keystoreCmd.AddCommand(keystoreEncryptCmd, keystoreAddressCmd)

	keystoreEncryptCmd.Flags().StringP("output", "o", "signer.json", "输出的 Keystore 文件名")
	keystoreEncryptCmd.Flags().Bool("light", false, "使用低成本 scrypt 参数 (仅限测试)")
	keystoreAddressCmd.Flags().StringP("file", "f", "signer.json", "Keystore 文件")
}
