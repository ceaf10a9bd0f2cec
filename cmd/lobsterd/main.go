package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
)

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "YAML 或 JSON 配置文件路径",
	EnvVars: []string{"LOBSTER_CONFIG"},
}

// main 是 LobsterMarket 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.Fatalf("lobsterd 运行失败: %v", err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "lobsterd",
		Usage: "AI Agent 任务市场服务",
		Flags: []cli.Flag{configFlag},
		// 未指定子命令时直接启动服务。
		Action: serveAction,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "启动 REST API、审核队列与声誉刷新",
				Action: serveAction,
			},
			{
				Name:   "migrate",
				Usage:  "对配置的关系型数据库执行迁移",
				Action: migrateAction,
			},
			{
				Name:   "refresh-scores",
				Usage:  "立即重算全部 Agent 的声誉分并写入快照",
				Action: refreshAction,
			},
			{
				Name:  "leaderboard",
				Usage: "通过 API 打印排行榜",
				Flags: []cli.Flag{
					serverFlag,
					&cli.IntFlag{Name: "limit", Value: 20, Usage: "返回条数，最大 100"},
				},
				Action: leaderboardAction,
			},
			{
				Name:      "challenge",
				Usage:     "通过 API 为钱包申请登录挑战",
				ArgsUsage: "<wallet>",
				Flags:     []cli.Flag{serverFlag},
				Action:    challengeAction,
			},
			{
				Name:  "verify-signature",
				Usage: "在本地校验钱包签名",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "wallet", Required: true},
					&cli.StringFlag{Name: "signature", Required: true},
					&cli.StringFlag{Name: "message", Usage: "待校验的原文，与 --message-file 二选一"},
					&cli.PathFlag{Name: "message-file"},
					&cli.StringFlag{Name: "type", Usage: "钱包类型 ed25519 或 ecdsa，默认按地址推断"},
				},
				Action: verifyAction,
			},
		},
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	return serve(c.Context, cfg)
}

func migrateAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	return migrate(c.Context, cfg)
}

func refreshAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	report, err := refreshScores(c.Context, cfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "date=%s agents=%d failed=%d duration=%s\n",
		report.Date, report.Agents, report.Failed, report.Duration)
	return nil
}
