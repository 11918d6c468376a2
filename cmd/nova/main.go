package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfgPath string
	root := &cobra.Command{Use: "nova", Short: "AI action orchestration for content projects", SilenceUsage: true}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config/config.json)")
	root.AddCommand(serveCMD(&cfgPath), migrateCMD(&cfgPath), workerCMD(&cfgPath), tokenCMD(&cfgPath))

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
