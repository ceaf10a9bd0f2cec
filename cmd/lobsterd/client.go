package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"

	"LobsterMarket/internal/wallet"
	"LobsterMarket/sdk/go/lobster"
)

var serverFlag = &cli.StringFlag{
	Name:    "server",
	Value:   "http://localhost:8080",
	Usage:   "LobsterMarket API 地址",
	EnvVars: []string{"LOBSTER_SERVER"},
}

func newClient(c *cli.Context) (*lobster.Client, error) {
	return lobster.NewClient(c.String(serverFlag.Name), nil)
}

func leaderboardAction(c *cli.Context) error {
	client, err := newClient(c)
	if err != nil {
		return err
	}
	agents, err := client.Leaderboard(c.Context, c.Int("limit"))
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(c.App.Writer)
	table.SetHeader([]string{"#", "Agent", "Name", "Score", "Completed", "Tier"})
	for i, a := range agents {
		table.Append([]string{
			strconv.Itoa(i + 1),
			a.ID,
			a.Name,
			strconv.FormatFloat(a.LobsterScore, 'f', 2, 64),
			strconv.Itoa(a.TotalJobsCompleted),
			a.VerificationTier,
		})
	}
	table.Render()
	return nil
}

func challengeAction(c *cli.Context) error {
	address := strings.TrimSpace(c.Args().First())
	if address == "" {
		return errors.New("缺少钱包地址")
	}
	client, err := newClient(c)
	if err != nil {
		return err
	}
	challenge, err := client.RequestChallenge(c.Context, address)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "nonce: %s\nexpires_at: %s\n\n%s\n", challenge.Nonce, challenge.ExpiresAt.Format(time.RFC3339), challenge.Message)
	return nil
}

func verifyAction(c *cli.Context) error {
	message := c.String("message")
	if path := c.Path("message-file"); path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("读取消息文件失败: %w", err)
		}
		message = string(content)
	}
	if message == "" {
		return errors.New("需要 --message 或 --message-file")
	}

	address := c.String("wallet")
	family, err := wallet.Resolve(c.String("type"), address)
	if err != nil {
		return err
	}
	if err := wallet.Verify(family, address, c.String("signature"), message); err != nil {
		return fmt.Errorf("签名无效 (%s): %w", family.Name(), err)
	}
	fmt.Fprintf(c.App.Writer, "签名有效 (%s)\n", family.Name())
	return nil
}
