package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"recurd/internal/app"
	"recurd/internal/rule"
	"recurd/internal/sched"
)

var rootCmd = &cobra.Command{
	Use:           "recurd",
	Short:         "Resumable recurrence scheduler",
	Long:          "recurd runs child work on a recurrence rule (delay, at, every, daily, monthly),\nsurviving restarts by persisting the resolved schedule and pending wake times.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var startFlags struct {
	child     string
	ruleSpec  string
	tz        string
	maxIter   int
	wait      bool
	ask       bool
	detach    bool
	requestID string
	config    string
	storeDrv  string
	storePath string
	runnerCmd string
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a schedule, or resume one by request id",
	Example: `  recurd start --child backup --rule daily:02:30 --tz Europe/Vienna --wait
  recurd start --child poll --rule every:5m --max-iterations 12
  recurd start --ask --detach-form
  recurd start --request-id 7b0c9f4e-...`,
	RunE: runStart,
}

func init() {
	f := startCmd.Flags()
	f.StringVar(&startFlags.child, "child", "", "child work name")
	f.StringVar(&startFlags.ruleSpec, "rule", "", "recurrence rule (delay:SECS, at:EPOCH|RFC3339, every:SECS|DUR, daily:HH:MM, monthly:D@HH:MM)")
	f.StringVar(&startFlags.tz, "tz", "", "IANA timezone for daily/monthly rules (default UTC)")
	f.IntVar(&startFlags.maxIter, "max-iterations", 0, "iteration bound (0 = unbounded)")
	f.BoolVar(&startFlags.wait, "wait", false, "wait for each child to finish before scheduling the next iteration")
	f.BoolVar(&startFlags.ask, "ask", false, "prompt for missing configuration fields")
	f.BoolVar(&startFlags.detach, "detach-form", false, "with --ask: persist the form, print its request id, and exit")
	f.StringVar(&startFlags.requestID, "request-id", "", "resume a persisted request")
	f.StringVar(&startFlags.config, "config", "", "path to config file (yaml or json)")
	f.StringVar(&startFlags.storeDrv, "store", "", "store driver override (sqlite, badger, memory)")
	f.StringVar(&startFlags.storePath, "store-path", "", "store path override")
	f.StringVar(&startFlags.runnerCmd, "runner-cmd", "", "command to execute per iteration (child name is appended)")

	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(app.Options{
		ConfigPath:  startFlags.config,
		StoreDriver: startFlags.storeDrv,
		StorePath:   startFlags.storePath,
		RunnerCmd:   startFlags.runnerCmd,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	st := sched.Start{
		RequestID: startFlags.requestID,
		Ask:       startFlags.ask,
		Detach:    startFlags.detach,
	}
	st.Partial.Child = startFlags.child
	if startFlags.ruleSpec != "" {
		spec, err := rule.ParseSpec(startFlags.ruleSpec)
		if err != nil {
			return err
		}
		if startFlags.tz != "" {
			spec.Timezone = startFlags.tz
		}
		st.Partial.Rule = &spec
	}
	if cmd.Flags().Changed("max-iterations") {
		v := startFlags.maxIter
		st.Partial.MaxIterations = &v
	}
	if cmd.Flags().Changed("wait") {
		v := startFlags.wait
		st.Partial.WaitForChild = &v
	}

	sum, err := a.Run(ctx, st)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stopped after %d iterations: %s\n", sum.Iterations, sum.Reason)
		return err
	}
	if sum.AwaitingID != "" {
		fmt.Printf("awaiting input: request %s\n", sum.AwaitingID)
		return nil
	}
	if sum.Dispatched > 0 {
		fmt.Printf("request %s: %d iterations, %d dispatched async, %d succeeded, %d failed\n",
			sum.RequestID, sum.Iterations, sum.Dispatched, sum.Succeeded, sum.Failed)
		return nil
	}
	fmt.Printf("request %s: %d iterations, %d succeeded, %d failed\n",
		sum.RequestID, sum.Iterations, sum.Succeeded, sum.Failed)
	return nil
}
