package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	unlocker "github.com/zed-0xff/fpsunlocker"
)

const Version = "5.0"

var (
	g_verbose int
	g_quiet   bool
)

var rootCmd = &cobra.Command{
	Use:           "fpsunlocker",
	Short:         "Removes the frame rate cap of running Roblox clients",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		v := g_verbose
		if g_quiet {
			v = -1
		}
		unlocker.SetVerbosity(v)
	},
	RunE: runWatch,
}

func init() {
	rootCmd.PersistentFlags().CountVarP(&g_verbose, "verbose", "v", "more output, repeat for trace")
	rootCmd.PersistentFlags().BoolVarP(&g_quiet, "quiet", "q", false, "warnings and errors only")

	addWatchFlags(rootCmd)
	rootCmd.AddCommand(watchCmd, attachCmd, psCmd, peekCmd)
}

// '_' is accepted as a visual separator
func parseHex(s string, title string) (uint64, error) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	s = strings.ReplaceAll(s, "_", "")
	x, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s", title, s)
	}
	return x, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "[?]", err)
		os.Exit(1)
	}
}
