package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/thiagokokada/dotrack/internal/buildinfo"
	"github.com/thiagokokada/dotrack/internal/git"
	"github.com/thiagokokada/dotrack/internal/tracker"
	"github.com/thiagokokada/dotrack/internal/watch"
)

func newTrackCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "track <paths...>",
		Short: "Start tracking files or directories",
		Long: `Stage the given files for the next save. Directories are added
recursively, hidden files included. Either every path is tracked or none is.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.open()
			if err != nil {
				return err
			}
			return e.Track(args...)
		},
	}
}

func newUntrackCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "untrack <paths...>",
		Short: "Stop tracking files or directories",
		Long: `Remove the given paths, and everything tracked under them, from the
index. Files on disk are left alone. Paths no longer on disk are accepted as
long as something is tracked under them.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.open()
			if err != nil {
				return err
			}
			return e.Untrack(args...)
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	var modified bool
	c := &cobra.Command{
		Use:   "list",
		Short: "List tracked files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.open()
			if err != nil {
				return err
			}
			e.SetFilter(tracker.FilterFor(modified))
			paths, err := e.List()
			if err != nil {
				return err
			}
			for _, p := range paths {
				fmt.Fprintln(a.stdout, p)
			}
			return nil
		},
	}
	c.Flags().BoolVarP(&modified, "modified", "m", false, "only files changed on disk since they were tracked")
	return c
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the changes the next save would record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.open()
			if err != nil {
				return err
			}
			cs, err := e.Changes()
			if err != nil {
				return err
			}
			if len(cs) == 0 {
				fmt.Fprintln(a.stdout, "nothing to save")
				return nil
			}
			for _, line := range splitRecap(cs.Recap()) {
				printChangeLine(a, line)
			}
			return nil
		},
	}
}

func newSaveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "save",
		Short: "Record the tracked files as a new commit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.open()
			if err != nil {
				return err
			}
			msg, err := e.Save()
			if errors.Is(err, tracker.ErrNothingToCommit) {
				color.New(color.FgYellow).Fprintln(a.stdout, "nothing to save")
				return nil
			}
			if err != nil {
				return err
			}
			for _, line := range splitRecap(msg) {
				printChangeLine(a, line)
			}
			return nil
		},
	}
}

func newDiffCmd(a *app) *cobra.Command {
	var style string
	c := &cobra.Command{
		Use:   "diff",
		Short: "Show on-disk changes of tracked files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.open()
			if err != nil {
				return err
			}
			text, sections, err := e.Diff()
			if err != nil || text == "" {
				return err
			}
			if color.NoColor {
				_, err := fmt.Fprint(a.stdout, text)
				return err
			}
			return highlightDiff(a.stdout, text, sections, style)
		},
	}
	c.Flags().StringVar(&style, "style", defaultStyle, "chroma style used to highlight diffs")
	return c
}

func newLogCmd(a *app) *cobra.Command {
	var limit int
	c := &cobra.Command{
		Use:   "log",
		Short: "Show saved commits, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.open()
			if err != nil {
				return err
			}
			entries, err := e.History(limit)
			if err != nil {
				return err
			}
			hash := color.New(color.FgYellow)
			for _, entry := range entries {
				if len(entry) > 7 {
					hash.Fprint(a.stdout, entry[:7])
					fmt.Fprintln(a.stdout, entry[7:])
					continue
				}
				fmt.Fprintln(a.stdout, entry)
			}
			return nil
		},
	}
	c.Flags().IntVarP(&limit, "limit", "n", git.DefaultHistoryLimit, "maximum number of commits to show")
	return c
}

func newRemoteAddCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "add <name> <url>",
		Short: "Add a remote, or replace the URL of an existing one",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.open()
			if err != nil {
				return err
			}
			name, err := e.AddRemote(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "remote %s -> %s\n", name, args[1])
			return nil
		},
	}
}

func newPushCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "push [remote] [branch]",
		Short: "Push saved commits to a remote",
		Long: `Push a branch to a remote. The remote defaults to the configured remote
name (origin), the branch to the one HEAD points at.

SSH remotes use the keys in ~/.ssh. HTTP remotes read DOTRACK_GIT_USERNAME
and DOTRACK_GIT_PASSWORD, then DOTRACK_GIT_TOKEN.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.open()
			if err != nil {
				return err
			}
			remote := a.cfg.RemoteName
			branch := ""
			if len(args) > 0 {
				remote = args[0]
			}
			if len(args) > 1 {
				branch = args[1]
			}
			if err := e.Push(cmd.Context(), remote, branch); err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintf(a.stdout, "pushed to %s\n", remote)
			return nil
		},
	}
}

func newWatchCmd(a *app) *cobra.Command {
	var delay time.Duration
	c := &cobra.Command{
		Use:   "watch",
		Short: "Print modified tracked files whenever they change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.open()
			if err != nil {
				return err
			}
			bullet := color.New(color.FgRed)
			report := func(paths []string) {
				if len(paths) == 0 {
					fmt.Fprintln(a.stdout, "all tracked files match the index")
					return
				}
				fmt.Fprintf(a.stdout, "%d modified:\n", len(paths))
				for _, p := range paths {
					bullet.Fprint(a.stdout, "  M ")
					fmt.Fprintln(a.stdout, p)
				}
			}
			a.log.Debug("watching", zap.Duration("delay", delay))
			return watch.Run(cmd.Context(), e, report, watch.Options{Delay: delay, Logger: a.log.Named("watch")})
		},
	}
	c.Flags().DurationVar(&delay, "delay", watch.DefaultDelay, "quiet period before reporting")
	return c
}

func newIdentityCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "identity <name> <email>",
		Short: "Set the author recorded by save",
		Long: `Store user.name and user.email in the store's own config. Without it
save falls back to your global git identity.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.open()
			if err != nil {
				return err
			}
			s, ok := e.Backend().(interface {
				SetIdentity(name, email string) error
			})
			if !ok {
				return fmt.Errorf("identity: %w (%s backend)", tracker.ErrUnsupported, e.Backend().Name())
			}
			return s.SetIdentity(args[0], args[1])
		},
	}
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(a.stdout, buildinfo.String())
			if v, err := git.GitVersion(); err == nil {
				fmt.Fprintln(a.stdout, v)
			} else {
				fmt.Fprintf(a.stdout, "git: %v\n", err)
			}
			return nil
		},
	}
}
