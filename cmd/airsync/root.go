package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "airsync",
		Short: "用 Wikipedia 航司代码表校正本地 airlines 参考库",
		Long: `airsync 读取 Wikipedia "List of airline codes" 页面，与本地 airlines 表逐条匹配：
已匹配的记录按源数据更新字段、合并重复记录（flights 迁移到保留记录），
未匹配的记录新增。默认 dry-run，只输出将要执行的变更。`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd())
	return root
}
