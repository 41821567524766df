package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/wfunc/bias-game/internal/client"
	"github.com/wfunc/bias-game/internal/service"
	"github.com/wfunc/bias-game/internal/session"
	ws "github.com/wfunc/bias-game/internal/websocket"
)

type roomOptions struct {
	server   string
	identity string
	wsPath   string
}

func (o *roomOptions) client() *client.Client {
	c := client.New(o.server, session.NewFileIdentityStore(o.identity))
	c.WSPath = o.wsPath
	return c
}

func defaultIdentityPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bias-identity.json"
	}
	return filepath.Join(home, ".bias", "identity.json")
}

// newRoomCmd 命令行客户端，身份保存在本地文件，重复执行时自动恢复会话
func newRoomCmd() *cobra.Command {
	opts := &roomOptions{}
	cmd := &cobra.Command{
		Use:   "room",
		Short: "以命令行客户端身份操作房间",
	}
	cmd.PersistentFlags().StringVar(&opts.server, "server", "http://localhost:8080", "服务器地址")
	cmd.PersistentFlags().StringVar(&opts.identity, "identity", defaultIdentityPath(), "本地身份文件")
	cmd.PersistentFlags().StringVar(&opts.wsPath, "ws-path", "/ws", "WebSocket路径")

	var name string
	var maxPoints int
	var dubito bool
	create := &cobra.Command{
		Use:   "create",
		Short: "创建房间",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := opts.client().Create(cmd.Context(), &service.CreateRoomRequest{
				Name:       name,
				MaxPoints:  maxPoints,
				DubitoMode: dubito,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "房间 %s 已创建，玩家ID %s\n", resp.Room.ID, resp.PlayerID)
			return nil
		},
	}
	create.Flags().StringVarP(&name, "name", "n", "", "玩家名称")
	create.Flags().IntVar(&maxPoints, "max-points", 0, "获胜分数，0 使用默认值")
	create.Flags().BoolVar(&dubito, "dubito", false, "开启 Dubito 模式")
	_ = create.MarkFlagRequired("name")

	var joinName string
	join := &cobra.Command{
		Use:   "join CODE",
		Short: "加入房间",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := opts.client().Join(cmd.Context(), args[0], joinName)
			if err != nil {
				return err
			}
			msg := "已加入房间 %s，玩家ID %s\n"
			if resp.MidGame {
				msg = "已加入进行中的房间 %s，玩家ID %s\n"
			}
			fmt.Fprintf(cmd.OutOrStdout(), msg, resp.Room.ID, resp.PlayerID)
			return nil
		},
	}
	join.Flags().StringVarP(&joinName, "name", "n", "", "玩家名称")
	_ = join.MarkFlagRequired("name")

	status := &cobra.Command{
		Use:   "status",
		Short: "恢复会话并显示房间状态",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			state, err := opts.client().Resume(cmd.Context())
			if err != nil {
				return err
			}
			printRoom(cmd, state)
			return nil
		},
	}

	leave := &cobra.Command{
		Use:   "leave",
		Short: "离开房间并清除本地身份",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.client().Leave(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "已离开房间")
			return nil
		},
	}

	watch := &cobra.Command{
		Use:   "watch",
		Short: "订阅房间推送，Ctrl+C 退出",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return opts.client().Watch(ctx, func(msg *ws.Message) {
				fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", msg.Type, string(msg.Data))
			})
		},
	}

	cmd.AddCommand(create, join, status, leave, watch)
	return cmd
}

func printRoom(cmd *cobra.Command, state *service.RoomState) {
	out := cmd.OutOrStdout()
	room := state.Room
	fmt.Fprintf(out, "房间 %s  状态 %s  目标分数 %d\n", room.ID, room.Config.Status, room.Config.MaxPoints)
	for _, p := range room.PlayersByJoinOrder() {
		mark := " "
		if p.IsHost {
			mark = "*"
		}
		fmt.Fprintf(out, "%s %-16s %2d 分  准备:%v\n", mark, p.Name, p.Score, p.IsReady)
	}
}
