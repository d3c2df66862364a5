package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"

	"github.com/charmbracelet/lipgloss"
	"github.com/kurobon/mergegym/internal/config"
	"github.com/kurobon/mergegym/internal/gitsource"
	"github.com/kurobon/mergegym/internal/merge"
	"github.com/kurobon/mergegym/internal/server"
	"github.com/kurobon/mergegym/internal/session"
	"github.com/sanity-io/litter"
	"github.com/spf13/cobra"
)

var repoDir string

var (
	resolvedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true)
	unresolvedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	failedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	pathStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#F1D3AB"))
)

var rootCmd = &cobra.Command{
	Use:          "mergegym",
	Short:        "Resolve git merge conflicts change by change",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&repoDir, "repo", "C", ".", "repository directory")
	autoCmd.Flags().Bool("write", false, "write and stage files that end up resolved")
	rootCmd.AddCommand(statusCmd, autoCmd, takeCmd, dumpCmd, mergeCmd, serveCmd)
}

// open loads the repository's config, discovers its conflicts and analyzes
// them.
func open(ctx context.Context) (*gitsource.Source, *session.Session, error) {
	cfg, err := config.Load(repoDir)
	if err != nil {
		return nil, nil, err
	}
	src, err := gitsource.Open(repoDir)
	if err != nil {
		return nil, nil, err
	}
	paths, err := src.ConflictedPaths(ctx)
	if err != nil {
		return nil, nil, err
	}
	sess := session.New("cli", src, sessionOptions(cfg))
	sess.AddPaths(paths...)
	if err := sess.AnalyzeAll(ctx); err != nil {
		return nil, nil, err
	}
	return src, sess, nil
}

func sessionOptions(cfg *config.Config) session.Options {
	return session.Options{
		MaxParallel:    cfg.MaxParallel,
		AnalyzeTimeout: cfg.AnalyzeTimeout,
		MarkerSize:     cfg.MarkerSize,
	}
}

// resolvePaths expands fuzzy path arguments against the session.
func resolvePaths(sess *session.Session, args []string) ([]string, error) {
	if len(args) == 0 {
		return sess.Paths(), nil
	}
	var out []string
	for _, arg := range args {
		matches := sess.FindFiles(arg)
		if len(matches) == 0 {
			return nil, fmt.Errorf("no conflicted file matches %q", arg)
		}
		out = append(out, matches[0])
	}
	return out, nil
}

func printStatus(sess *session.Session) {
	for _, fs := range sess.Status() {
		var label string
		switch {
		case fs.Resolved:
			label = resolvedStyle.Render("resolved")
		case fs.State == session.Failed:
			label = failedStyle.Render("failed")
		default:
			label = unresolvedStyle.Render(fmt.Sprintf("%d unresolved", fs.Unresolved))
		}
		fmt.Printf("  %s  %s\n", pathStyle.Render(fs.Path), label)
		if fs.Error != "" {
			fmt.Printf("      %s\n", fs.Error)
		}
	}
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List conflicted files and how many changes each still needs",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, sess, err := open(cmd.Context())
		if err != nil {
			return err
		}
		if len(sess.Paths()) == 0 {
			fmt.Println("No conflicted files.")
			return nil
		}
		printStatus(sess)
		return nil
	},
}

var autoCmd = &cobra.Command{
	Use:   "auto [paths...]",
	Short: "Apply every change that does not conflict",
	RunE: func(cmd *cobra.Command, args []string) error {
		src, sess, err := open(cmd.Context())
		if err != nil {
			return err
		}
		paths, err := resolvePaths(sess, args)
		if err != nil {
			return err
		}
		resolved := make(map[string]string)
		for _, p := range paths {
			f, err := sess.File(p)
			if errors.Is(err, session.ErrNotAnalyzed) {
				continue
			}
			if err != nil {
				return err
			}
			f.ApplyNonConflictingChanges()
			if f.Resolved() {
				resolved[p] = f.MergedText()
			}
		}
		printStatus(sess)

		if write, _ := cmd.Flags().GetBool("write"); write && len(resolved) > 0 {
			if err := src.WriteResolved(cmd.Context(), resolved); err != nil {
				return err
			}
			fmt.Printf("Staged %d files.\n", len(resolved))
		}
		return nil
	},
}

var takeCmd = &cobra.Command{
	Use:   "take <local|remote> [paths...]",
	Short: "Resolve files by taking one side, then write and stage them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		side, err := merge.ParseBranch(args[0])
		if err != nil {
			return err
		}
		src, sess, err := open(cmd.Context())
		if err != nil {
			return err
		}
		paths, err := resolvePaths(sess, args[1:])
		if err != nil {
			return err
		}

		contents := make(map[string]string)
		for _, p := range paths {
			if st, _ := sess.State(p); st == session.Failed {
				if err := sess.ChooseSide(cmd.Context(), p, side); err != nil {
					return err
				}
				text, err := src.FetchSide(cmd.Context(), p, side)
				if err != nil {
					return err
				}
				contents[p] = text
				continue
			}
			f, err := sess.File(p)
			if err != nil {
				return err
			}
			f.AcceptSide(side)
			contents[p] = f.MergedText()
		}
		if err := src.WriteResolved(cmd.Context(), contents); err != nil {
			return err
		}
		printStatus(sess)
		return nil
	},
}

var dumpCmd = &cobra.Command{
	Use:   "dump <path>",
	Short: "Print the line graph and changes of one file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, sess, err := open(cmd.Context())
		if err != nil {
			return err
		}
		paths, err := resolvePaths(sess, args)
		if err != nil {
			return err
		}
		f, err := sess.File(paths[0])
		if err != nil {
			return err
		}
		litter.Config.HidePrivateFields = true
		fmt.Println(litter.Sdump(f.Snapshot()))
		return nil
	},
}

var mergeCmd = &cobra.Command{
	Use:   "merge <revision>",
	Short: "Merge a revision into HEAD, leaving conflicts for resolution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := gitsource.Open(repoDir)
		if err != nil {
			return err
		}
		paths, err := src.Merge(cmd.Context(), args[0])
		if errors.Is(err, gitsource.ErrConflict) {
			fmt.Printf("Automatic merge failed; %d conflicted files:\n", len(paths))
			for _, p := range paths {
				fmt.Printf("  %s\n", pathStyle.Render(p))
			}
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Println("Merged cleanly.")
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(repoDir)
		if err != nil {
			return err
		}
		config.Global = cfg
		manager := session.NewManager(sessionOptions(cfg))
		defer manager.Close()

		srv := &http.Server{Addr: cfg.Addr, Handler: server.NewServer(manager, server.GitOpener(cfg))}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		go func() {
			<-ctx.Done()
			srv.Close()
		}()

		log.Printf("Server listening on %s (repositories under %s)", cfg.Addr, cfg.DataRoot)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}
