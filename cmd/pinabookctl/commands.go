package main

import (
	"github.com/spf13/cobra"
)

var (
	tickAt     string
	auditFrom  string
	auditLimit int

	rootCmd = &cobra.Command{
		Use:           "pinabookctl",
		Short:         "Operator tool for the pinabook reservation core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	tickCmd = &cobra.Command{
		Use:   "tick",
		Short: "Evaluate every subscription against the current time (or --at)",
		Args:  cobra.NoArgs,
		RunE:  runTick,
	}

	paymentCmd = &cobra.Command{
		Use:   "payment [affiliate_id] [payment_id]",
		Short: "Confirm a billing payment and extend the affiliate's cycle",
		Args:  cobra.ExactArgs(2),
		RunE:  runPayment,
	}

	countersCmd = &cobra.Command{
		Use:   "counters",
		Short: "Inspect and repair aggregate counters",
	}
	rebuildCmd = &cobra.Command{
		Use:   "rebuild [affiliate_id]",
		Short: "Recompute an affiliate's counters from the store",
		Args:  cobra.ExactArgs(1),
		RunE:  runRebuild,
	}
	verifyCmd = &cobra.Command{
		Use:   "verify [affiliate_id]",
		Short: "Compare stored counters with a recount; without an id, repair every drifted affiliate",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runVerify,
	}

	auditCmd = &cobra.Command{
		Use:   "audit [affiliate_id]",
		Short: "Print an affiliate's audit trail in chronological order",
		Args:  cobra.ExactArgs(1),
		RunE:  runAudit,
	}
)

func init() {
	rootCmd.AddCommand(tickCmd)
	tickCmd.Flags().StringVar(&tickAt, "at", "", "Evaluate as of this RFC3339 time instead of now")

	rootCmd.AddCommand(paymentCmd)

	rootCmd.AddCommand(countersCmd)
	countersCmd.AddCommand(rebuildCmd)
	countersCmd.AddCommand(verifyCmd)

	rootCmd.AddCommand(auditCmd)
	auditCmd.Flags().StringVar(&auditFrom, "from", "", "Only entries at or after this RFC3339 time")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 100, "Maximum number of entries")
}
