package cmd

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "生成 API key / secret",
	Long:  `生成若干 API key 与 secret, 输出 JSON, 可直接作为 AUTH_API_SECRETS_JSON 使用。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		n, _ := cmd.Flags().GetInt("count")
		if n <= 0 {
			return fmt.Errorf("count 必须大于 0")
		}

		out := make(map[string]string, n)
		for i := 0; i < n; i++ {
			secret := make([]byte, 32)
			if _, err := rand.Read(secret); err != nil {
				return err
			}
			out[uuid.NewString()] = hex.EncodeToString(secret)
		}

		b, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(b))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(apikeyCmd)
	apikeyCmd.Flags().IntP("count", "n", 1, "生成数量")
}
