// Package cmd implements the dotrack command line.
package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/thiagokokada/dotrack/internal/config"
	"github.com/thiagokokada/dotrack/internal/git"
)

// Overridden in tests.
var probeGit = git.ProbeExecutable

var lookupEnv config.LookupEnv = os.LookupEnv

func Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, os.Args[1:], color.Output, color.Error)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{stdout: stdout, stderr: stderr}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	return joinClose(err, a.close())
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "dotrack",
		Short: "Track dotfiles in a git store whose work tree is your home directory",
		Long: `dotrack keeps selected files of your home directory under version control
without turning the home directory into a repository. The store lives in
~/.dotrack and is managed entirely through this command.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error { return a.setup(cmd) },
	}
	a.bindFlags(root)

	remote := &cobra.Command{
		Use:   "remote",
		Short: "Manage remotes of the store",
	}
	remote.AddCommand(newRemoteAddCmd(a))

	root.AddCommand(
		newTrackCmd(a),
		newUntrackCmd(a),
		newListCmd(a),
		newStatusCmd(a),
		newSaveCmd(a),
		newDiffCmd(a),
		newLogCmd(a),
		remote,
		newPushCmd(a),
		newWatchCmd(a),
		newIdentityCmd(a),
		newVersionCmd(a),
	)
	return root
}
