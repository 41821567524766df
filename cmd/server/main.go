package main

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/wfunc/bias-game/internal/catalog"
	"github.com/wfunc/bias-game/internal/config"
	"github.com/wfunc/bias-game/internal/logger"
	"go.uber.org/zap"
)

// 版本信息
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	cobra.CheckErr(newRootCmd().Execute())
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "bias-server",
		Short:         "Bias / Dubito 派对游戏服务器",
		Version:       Version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetGlobalNormalizationFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	root.CompletionOptions.HiddenDefaultCmd = true
	root.SetVersionTemplate("bias-server v{{.Version}}\n")

	root.AddCommand(newServeCmd(), newCatalogCmd(), newRoomCmd(), newVersionCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 与 WebSocket 服务",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = os.Getenv("BIAS_CONFIG")
			}
			if err := config.Init(configPath); err != nil {
				return fmt.Errorf("加载配置失败: %w", err)
			}
			cfg := config.Get()

			if err := logger.Init(&cfg.Log); err != nil {
				return fmt.Errorf("初始化日志失败: %w", err)
			}
			defer logger.Cleanup()

			printStartInfo(cfg)

			server := NewServer(cfg)
			if err := server.Start(); err != nil {
				logger.Error("服务器启动失败", zap.Error(err))
				return err
			}

			server.WaitForShutdown()

			if err := server.Shutdown(); err != nil {
				logger.Error("服务器关闭失败", zap.Error(err))
				return err
			}
			logger.Info("服务器已安全关闭")
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "配置文件路径 (env: BIAS_CONFIG)")
	return cmd
}

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "卡牌目录工具",
	}

	var (
		dir        string
		legacyFile string
		categories []string
	)
	validate := &cobra.Command{
		Use:   "validate",
		Short: "加载卡牌目录并输出各分类数量",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			meta, err := catalog.LoadMetadata(dir)
			if err != nil {
				fmt.Fprintf(out, "未找到分类索引，使用旧格式文件 %s\n", legacyFile)
			} else {
				for _, c := range meta.Categories {
					fmt.Fprintf(out, "%-16s %-24s 声明 %d 张\n", c.ID, c.Name, c.Count)
				}
			}

			deck, err := catalog.Load(dir, legacyFile, categories)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "已加载 %d 张卡牌，每人 %d 张，最多支持 %d 名玩家\n",
				deck.Len(), deck.CardsPerPlayer(), deck.Len()/deck.CardsPerPlayer())
			return nil
		},
	}
	validate.Flags().StringVar(&dir, "dir", "./data/categories", "分类目录")
	validate.Flags().StringVar(&legacyFile, "legacy-file", "./data/dilemmas.json", "旧格式单文件目录")
	validate.Flags().StringSliceVar(&categories, "categories", nil, "要加载的分类，默认全部")

	cmd.AddCommand(validate)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "显示版本信息",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			printVersion(cmd)
		},
	}
}

// printVersion 打印版本信息
func printVersion(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Bias 游戏服务器\n")
	fmt.Fprintf(out, "版本: %s\n", Version)
	fmt.Fprintf(out, "构建时间: %s\n", BuildTime)
	fmt.Fprintf(out, "Git提交: %s\n", GitCommit)
	fmt.Fprintf(out, "Go版本: %s\n", runtime.Version())
	fmt.Fprintf(out, "操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

// printStartInfo 打印启动信息
func printStartInfo(cfg *config.Config) {
	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Println("  Bias / Dubito 派对游戏服务器")
	fmt.Printf("  版本: %s | 模式: %s | PID: %d\n", Version, cfg.Server.Mode, os.Getpid())
	fmt.Printf("  存储: %s | 公开地址: %s\n", cfg.Database.Driver, cfg.Server.PublicURL)
	fmt.Println("═══════════════════════════════════════════════════════════════")
}
