package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"missionline/internal/domain"
	"missionline/internal/engine"
	"missionline/internal/repo"
)

func walletCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Points balance and transactions",
	}
	cmd.AddCommand(walletBalanceCmd())
	cmd.AddCommand(walletCreditCmd())
	cmd.AddCommand(walletSpendCmd())
	cmd.AddCommand(walletTxCmd())
	cmd.AddCommand(walletVerifyCmd())
	return cmd
}

func walletBalanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show the balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.Balance(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]domain.Points{"balance": b})
				}
				fmt.Println(b.String())
				return nil
			})
		},
	}
}

func walletCreditCmd() *cobra.Command {
	var amount, desc, missionID string
	cmd := &cobra.Command{
		Use:   "credit",
		Short: "Credit points",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := domain.ParsePoints(amount)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreditPoints(ctx, p, desc, missionID)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "points, e.g. 5 or 2.50")
	cmd.Flags().StringVar(&desc, "description", "", "what the points are for")
	cmd.Flags().StringVar(&missionID, "mission", "", "mission id to tag the transaction with")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("description")
	return cmd
}

func walletSpendCmd() *cobra.Command {
	var amount, desc string
	cmd := &cobra.Command{
		Use:   "spend",
		Short: "Spend points on a purchase",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := domain.ParsePoints(amount)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ok, err := e.SpendPoints(ctx, p, desc)
				if err != nil {
					return err
				}
				b, err := e.Balance(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"ok": ok, "balance": b})
				}
				if !ok {
					return fmt.Errorf("insufficient balance: %s available", b)
				}
				fmt.Printf("spent %s, balance %s\n", p, b)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "points to spend")
	cmd.Flags().StringVar(&desc, "description", "", "what was bought")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("description")
	return cmd
}

func walletTxCmd() *cobra.Command {
	var f repo.TxFilter
	var txType string
	cmd := &cobra.Command{
		Use:   "tx",
		Short: "List transactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Type = domain.TxType(txType)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListTransactions(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "Type", "Amount", "Description", "Mission"})
				tw.SetColumnConfigs([]table.ColumnConfig{{Number: 3, Align: text.AlignRight}})
				var total domain.Points
				for _, t := range items {
					total += t.Amount
					tw.AppendRow(table.Row{t.CreatedAt.Local().Format("2006-01-02 15:04"), t.Type, t.Amount.String(), t.Description, t.MissionID})
				}
				tw.AppendFooter(table.Row{"", "", total.String(), "", ""})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&txType, "type", "", "reward, penalty or purchase")
	cmd.Flags().StringVar(&f.MissionID, "mission", "", "mission id")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "maximum rows")
	return cmd
}

func walletVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check that the balance equals the sum of transactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.VerifyLedger(ctx)
				if err != nil {
					return err
				}
				if err := printJSONOrTable(res); err != nil {
					return err
				}
				if !res.OK {
					return fmt.Errorf("ledger mismatch: balance %s, transactions sum %s", res.Balance, res.Sum)
				}
				return nil
			})
		},
	}
}
