package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"relay-core/internal/event"
	"relay-core/internal/service/mq"
	"relay-core/pkg/config"
	"relay-core/pkg/database"

	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "订阅交易提交事件",
	Long:  `按 config.yaml 中的消息队列配置 (redis.mq_type) 订阅 relay-server 发布的提交事件并打印。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		group, _ := cmd.Flags().GetString("group")
		configDir, _ := cmd.Flags().GetString("config")

		cfg, err := config.Read(configDir)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// 1. 选择消费者
		var consumer mq.Consumer
		if cfg.Redis.MQType == "kafka" {
			consumer = mq.NewKafkaConsumer(cfg.Kafka.Brokers, group, nil)
		} else {
			rdb, err := database.ConnectRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
			if err != nil {
				return err
			}
			defer rdb.Close()
			host, _ := os.Hostname()
			consumer = mq.NewRedisConsumer(rdb, group, "cli-"+host, nil)
		}
		defer consumer.Close()

		// 2. 阻塞消费
		fmt.Printf("正在订阅 %s (Ctrl+C 退出)...\n", cfg.Events.Topic)
		return consumer.Subscribe(ctx, cfg.Events.Topic, func(msg *mq.Message) error {
			var e event.TxSubmittedEvent
			if err := json.Unmarshal(msg.Payload, &e); err != nil {
				fmt.Printf("无法解析的消息 %s: %v\n", msg.ID, err)
				return nil
			}
			fmt.Printf("[%s] chain=%d nonce=%d(%s) %s -> %s tx=%s key=%s\n",
				e.SubmittedAt.Format("15:04:05"), e.ChainID, e.Nonce, e.NonceSource, e.From, e.To, e.TxHash, e.APIKey)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.Flags().String("group", "relay_cli", "消费者组")
	eventsCmd.Flags().String("config", ".", "config.yaml 所在目录")
}
