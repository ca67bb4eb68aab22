package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"recurd/internal/app"
)

var respondFlags struct {
	config    string
	storeDrv  string
	storePath string
}

var respondCmd = &cobra.Command{
	Use:   "respond <request-id>",
	Short: "Answer the questions of a detached request",
	Long:  "respond prompts for the questions persisted by `start --ask --detach-form`\nand marks the request resolved, so `start --request-id` can proceed.",
	Args:  cobra.ExactArgs(1),
	RunE:  runRespond,
}

func init() {
	f := respondCmd.Flags()
	f.StringVar(&respondFlags.config, "config", "", "path to config file (yaml or json)")
	f.StringVar(&respondFlags.storeDrv, "store", "", "store driver override (sqlite, badger, memory)")
	f.StringVar(&respondFlags.storePath, "store-path", "", "store path override")

	rootCmd.AddCommand(respondCmd)
}

func runRespond(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(app.Options{
		ConfigPath:  respondFlags.config,
		StoreDriver: respondFlags.storeDrv,
		StorePath:   respondFlags.storePath,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	id := args[0]
	if err := a.Respond(ctx, id); err != nil {
		return err
	}
	fmt.Printf("request %s resolved\n", id)
	return nil
}
