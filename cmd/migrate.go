package main

import (
	"context"
	"time"

	"SyncHub/internal/repository"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "创建数据库并迁移表结构",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, log, _, err := bootstrap()
		if err != nil {
			return err
		}
		log.Info("迁移完成")
		return nil
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "立即清理保留期之前的变更记录",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, db, err := bootstrap()
		if err != nil {
			return err
		}
		days, _ := cmd.Flags().GetInt("days")
		if days <= 0 {
			days = cfg.Sync.RetentionDays
		}
		cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
		purged, err := repository.NewChangeRepository(db).Purge(context.Background(), cutoff)
		if err != nil {
			return err
		}
		log.WithField("purged", purged).WithField("cutoff", cutoff).Info("变更记录清理完成")
		return nil
	},
}

func init() {
	purgeCmd.Flags().Int("days", 0, "保留天数（默认取配置 sync.retention_days）")
}
