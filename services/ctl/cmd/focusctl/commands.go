package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/cobra"

	"focusguard/pkg/db"
	"focusguard/pkg/gaze"
	"focusguard/pkg/render"
	gos3 "focusguard/pkg/s3"
	"focusguard/services/ctl"
	"focusguard/services/tracker"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			cfg, err := loadStoreConfig(ctx)
			if err != nil {
				return err
			}
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := db.Migrate(ctx, pool)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", len(applied))
			return nil
		},
	}
}

func newUsersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "User record operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "create [ID]",
		Short: "Create an empty user record, generating an id when none is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			id := uuid.New()
			if len(args) == 1 {
				parsed, err := uuid.Parse(args[0])
				if err != nil {
					return fmt.Errorf("invalid user id: %w", err)
				}
				id = parsed
			}
			b, err := openBackend(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			if err := b.store.CreateUser(ctx, tracker.User{ID: id}); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	})
	return cmd
}

func newSessionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Session inspection and export",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newSessionsStaleCommand())
	cmd.AddCommand(newSessionsReportCommand())
	cmd.AddCommand(newSessionsExportCommand())
	return cmd
}

func newSessionsStaleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stale",
		Short: "List sessions left open by a previous API process",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			b, err := openBackend(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			stale, err := b.store.StaleSessions(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SESSION\tUSER\tSTARTED\tFOCUS\tDISTRACTION")
			for _, s := range stale {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.UserID,
					render.Timestamp(s.StartTime), render.Duration(s.FocusTime), render.Duration(s.DistractionTime))
			}
			return tw.Flush()
		},
	}
}

func newSessionsReportCommand() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "report ID",
		Short: "Print a summary of one session with its audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			sid, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid session id: %w", err)
			}
			uid, err := uuid.Parse(userID)
			if err != nil {
				return fmt.Errorf("invalid user id: %w", err)
			}
			engine, err := render.New()
			if err != nil {
				return err
			}
			b, err := openBackend(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			trail, closeTrail, err := b.trail(ctx)
			if err != nil {
				return err
			}
			defer closeTrail()

			out, err := ctl.BuildReport(ctx, engine, b.store, trail, sid, uid)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), out)
			return err
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "Owner of the session")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newSessionsExportCommand() *cobra.Command {
	var (
		userID string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a user's sessions to a .jsonl.zst file",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			uid, err := uuid.Parse(userID)
			if err != nil {
				return fmt.Errorf("invalid user id: %w", err)
			}
			if !strings.HasSuffix(output, ".zst") {
				return fmt.Errorf("output %q must end in .zst", output)
			}
			b, err := openBackend(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("create output: %w", err)
			}
			n, err := ctl.ExportSessions(ctx, b.store, uid, f)
			if closeErr := f.Close(); err == nil && closeErr != nil {
				err = closeErr
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d session(s) to %s\n", n, output)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User whose sessions are exported")
	cmd.Flags().StringVar(&output, "output", "", "Destination file (.jsonl.zst)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func newFramesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "frames",
		Short: "Archived frame operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var (
		bucket string
		ttl    time.Duration
	)
	presign := &cobra.Command{
		Use:   "presign KEY",
		Short: "Print a time-limited download URL for an archived (age-encrypted) frame",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			var s3cfg gos3.Config
			if err := envconfig.Process(ctx, &s3cfg); err != nil {
				return err
			}
			client, err := gos3.NewClient(ctx, s3cfg)
			if err != nil {
				return fmt.Errorf("s3 client: %w", err)
			}
			url, err := client.PresignGet(ctx, bucket, args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), url)
			return nil
		},
	}
	presign.Flags().StringVar(&bucket, "bucket", os.Getenv("FRAME_ARCHIVE_BUCKET"), "Archive bucket")
	presign.Flags().DurationVar(&ttl, "ttl", 15*time.Minute, "URL lifetime")
	cmd.AddCommand(presign)
	return cmd
}

func newGazeCommand() *cobra.Command {
	var (
		apiBase   string
		sessionID string
		userID    string
		token     string
		heartbeat time.Duration
		threshold float64
		consec    int
	)

	cmd := &cobra.Command{
		Use:   "gaze",
		Short: "Classify detector frames read as JSON lines from stdin and push focus to the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			if _, err := uuid.Parse(sessionID); err != nil {
				return fmt.Errorf("invalid session id: %w", err)
			}
			if _, err := uuid.Parse(userID); err != nil {
				return fmt.Errorf("invalid user id: %w", err)
			}

			logger := zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).With().Timestamp().Logger()
			classifier := gaze.NewClassifier()
			classifier.Threshold = threshold
			classifier.ConsecFrames = consec

			reporter, err := gaze.NewReporter(gaze.ReporterConfig{
				Pusher:    gaze.NewHTTPPusher(apiBase, sessionID, userID, token),
				Heartbeat: heartbeat,
				Logger:    logger,
				OnStatus: func(st gaze.Status) {
					if st.Focused {
						logger.Info().Msg("focused")
						return
					}
					logger.Info().Str("reason", st.Reason).Msg("not focused")
				},
			})
			if err != nil {
				return err
			}

			n, err := gaze.Replay(ctx, cmd.InOrStdin(), classifier, reporter)
			logger.Info().Int("frames", n).Msg("gaze input finished")
			return err
		},
	}
	cmd.Flags().StringVar(&apiBase, "api", "http://localhost:8080", "Base URL of the focus API")
	cmd.Flags().StringVar(&sessionID, "session", "", "Active session id")
	cmd.Flags().StringVar(&userID, "user", "", "Session owner")
	cmd.Flags().StringVar(&token, "token", os.Getenv("FOCUSGUARD_TOKEN"), "Bearer token for the API")
	cmd.Flags().DurationVar(&heartbeat, "heartbeat", gaze.DefaultHeartbeat, "Maximum time between pushes while the state is unchanged")
	cmd.Flags().Float64Var(&threshold, "threshold", gaze.DefaultThreshold, "Eye aspect ratio below which eyes count as closed")
	cmd.Flags().IntVar(&consec, "consec-frames", gaze.DefaultConsecFrames, "Closed frames required before reporting eyes closed")
	_ = cmd.MarkFlagRequired("session")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
