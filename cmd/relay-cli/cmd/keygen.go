package cmd

import (
	"fmt"

	"relay-core/pkg/bip32"
	"relay-core/pkg/bip39"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

// keygenCmd 生成新的签名身份
var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "生成新的签名私钥或助记词",
	Long: `生成一个新的 secp256k1 签名私钥, 或 (--mnemonic) 一个 24 词 BIP-39 助记词,
并显示对应的签名地址。输出可直接填入 signer.private_key / signer.mnemonic。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		useMnemonic, _ := cmd.Flags().GetBool("mnemonic")
		path, _ := cmd.Flags().GetString("path")

		fmt.Println("---------------------------------------------------")
		if useMnemonic {
			// 1. 生成助记词
			mnemonic, err := bip39.Generate(256)
			if err != nil {
				return fmt.Errorf("生成助记词失败: %w", err)
			}
			seed, err := bip39.Seed(mnemonic, "")
			if err != nil {
				return err
			}

			// 2. 派生签名私钥
			key, err := bip32.DeriveKey(seed, path)
			if err != nil {
				return fmt.Errorf("派生失败: %w", err)
			}
			fmt.Printf("助记词 (Mnemonic):\n%s\n", mnemonic)
			fmt.Printf("派生路径: %s\n", path)
			fmt.Printf("签名地址: %s\n", crypto.PubkeyToAddress(key.PublicKey).Hex())
		} else {
			key, err := crypto.GenerateKey()
			if err != nil {
				return fmt.Errorf("生成私钥失败: %w", err)
			}
			fmt.Printf("私钥 (Hex): %s\n", hexutil.Encode(crypto.FromECDSA(key)))
			fmt.Printf("签名地址: %s\n", crypto.PubkeyToAddress(key.PublicKey).Hex())
		}
		fmt.Println("---------------------------------------------------")
		fmt.Println("请妥善保管！任何拥有私钥或助记词的人都可以使用该签名身份。")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().Bool("mnemonic", false, "生成助记词而不是单个私钥")
	keygenCmd.Flags().String("path", bip32.DefaultEthereumPath, "助记词派生路径")
}
