// cmd/ide-worker/flatpak.go
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"ideworker/internal/flatpak"
	"ideworker/internal/infra/shell"

	"github.com/spf13/cobra"
)

func newFlatpakCmd() *cobra.Command {
	var fc flatpak.Config
	flatpakCmd := &cobra.Command{
		Use:   "flatpak",
		Short: "Build, install and run a project inside a flatpak sandbox",
	}
	flags := flatpakCmd.PersistentFlags()
	flags.StringVar(&fc.RuntimeID, "runtime-id", "", "Runtime identifier, e.g. flatpak:org.gnome.Sdk/x86_64/master")
	flags.StringVar(&fc.ProjectID, "project-id", "", "Project identifier")
	flags.StringVar(&fc.CacheDir, "cache-dir", "", "Cache directory (default from config)")
	flags.StringVar(&fc.Sdk, "sdk", "", "SDK ref")
	flags.StringVar(&fc.Platform, "platform", "", "Platform ref")
	flags.StringVar(&fc.Branch, "branch", "", "Runtime branch")
	flags.StringVar(&fc.PrimaryModule, "primary-module", "", "Manifest module holding the project")
	flags.StringVar(&fc.AppID, "app-id", "", "Application id")
	flags.StringVar(&fc.ManifestPath, "manifest", "", "Path to the flatpak manifest")
	flags.StringVar(&fc.ProjectPath, "project", "", "Project directory or file")
	flags.StringVar(&fc.RepoName, "repo", "", "Flatpak remote for development builds (default from config)")

	newRuntime := func() (*flatpak.Runtime, error) {
		rc := fc
		if rc.CacheDir == "" {
			rc.CacheDir = cfg.CacheDir
		}
		if rc.RepoName == "" {
			rc.RepoName = cfg.FlatpakRepoName
		}
		logger := newLogger(os.Stderr)
		return flatpak.NewRuntime(rc, shell.NewCommandRunner(0, logger), logger)
	}

	prebuildCmd := &cobra.Command{
		Use:   "prebuild",
		Short: "Prepare the build directory and the local repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			if err := rt.Prebuild(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), rt.BuildDir())
			return nil
		},
	}

	postinstallCmd := &cobra.Command{
		Use:   "postinstall",
		Short: "Finish, export and install the build",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			return rt.Postinstall(cmd.Context())
		},
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the installed application",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			out, err := rt.Exec(cmd.Context(), append(rt.RunnerArgv(), args...)...)
			fmt.Fprint(cmd.OutOrStdout(), out)
			return err
		},
	}

	execCmd := &cobra.Command{
		Use:   "exec -- COMMAND [ARGS...]",
		Short: "Run a command inside the build sandbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("usage: flatpak exec -- <command> [args...]")
			}
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			out, err := rt.Exec(cmd.Context(), rt.LauncherArgv(args...)...)
			fmt.Fprint(cmd.OutOrStdout(), out)
			return err
		},
	}

	whichCmd := &cobra.Command{
		Use:   "which PROGRAM",
		Short: "Check whether a program exists inside the build sandbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			if !rt.ContainsProgramInPath(cmd.Context(), args[0]) {
				return fmt.Errorf("%s not found in %s", args[0], fc.RuntimeID)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "found")
			return nil
		},
	}

	argvCmd := &cobra.Command{
		Use:   "argv [ARGS...]",
		Short: "Print the sandboxed command line for ARGS",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(rt.LauncherArgv(args...), " "))
			return nil
		},
	}

	flatpakCmd.AddCommand(prebuildCmd, postinstallCmd, runCmd, execCmd, whichCmd, argvCmd)
	return flatpakCmd
}
