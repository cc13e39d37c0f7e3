package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"

	"github.com/tos-network/gyield/core"
	"github.com/tos-network/gyield/store"
)

var positionsCommand = &cli.Command{
	Name:  "positions",
	Usage: "print the position book",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "status",
			Usage: "filter: active | closed | pending",
			Value: "active",
		},
	},
	Action: printPositions,
}

var auditCommand = &cli.Command{
	Name:  "audit",
	Usage: "print the audit log tail",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "n", Usage: "rows to print", Value: 50},
	},
	Action: printAudit,
}

func openReadOnly(ctx *cli.Context) (*store.DB, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	return store.Open(cfg.DataDir)
}

func printPositions(ctx *cli.Context) error {
	db, err := openReadOnly(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	positions, err := db.Positions(core.PositionStatus(ctx.String("status")))
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Pool", "Chain", "Protocol", "Value USD", "Entry USD", "PnL USD", "Opened"})
	table.SetBorder(false)
	var totalValue, totalPnl float64
	for _, pos := range positions {
		pnl := pos.UnrealizedPnlUsd + pos.RealizedPnlUsd
		table.Append([]string{
			pos.PoolID,
			string(pos.Chain),
			pos.ProtocolID,
			fmt.Sprintf("%.2f", pos.ValueUsd),
			fmt.Sprintf("%.2f", pos.EntryValueUsd),
			colorPnl(pnl),
			pos.OpenedAt.Format("2006-01-02 15:04"),
		})
		totalValue += pos.ValueUsd
		totalPnl += pnl
	}
	table.SetFooter([]string{"", "", "total", fmt.Sprintf("%.2f", totalValue), "", colorPnl(totalPnl), ""})
	table.Render()
	return nil
}

func colorPnl(pnl float64) string {
	switch {
	case pnl > 0:
		return color.GreenString("+%.2f", pnl)
	case pnl < 0:
		return color.RedString("%.2f", pnl)
	}
	return "0.00"
}

func printAudit(ctx *cli.Context) error {
	db, err := openReadOnly(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	entries, err := db.AuditTail(ctx.Int("n"))
	if err != nil {
		return err
	}
	for _, entry := range entries {
		sev := string(entry.Severity)
		switch entry.Severity {
		case core.SeverityWarning:
			sev = color.YellowString(sev)
		case core.SeverityError, core.SeverityCritical:
			sev = color.RedString(sev)
		}
		fmt.Printf("%s  %-8s %-16s %s\n",
			entry.CreatedAt.Format(time.RFC3339), sev, entry.EventType, entry.Message)
	}
	return nil
}
