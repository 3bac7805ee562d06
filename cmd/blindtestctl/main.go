// Package main is the operator CLI: migrations, session listing and pruning.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/blindtest-party/backend/config"
	"github.com/blindtest-party/backend/internal/models"
	"github.com/blindtest-party/backend/internal/sessions"
	"github.com/blindtest-party/backend/pkg/database"
	"github.com/blindtest-party/backend/pkg/queue"
	"github.com/blindtest-party/backend/pkg/redis"
	"github.com/blindtest-party/backend/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	app := &cli.App{
		Name:  "blindtestctl",
		Usage: "blind test backend operations",
		Commands: []*cli.Command{
			migrateCommand(cfg),
			listCommand(cfg),
			historyCommand(cfg),
			pruneCommand(cfg),
			queueCommand(cfg),
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return database.NewPostgresPool(ctx, cfg.Database.DSN(), 2, nil)
}

func migrateCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "apply database migrations",
		Action: func(c *cli.Context) error {
			pool, err := openPool(c.Context, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := database.Migrate(c.Context, pool); err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, "migrations applied")
			return nil
		},
	}
}

func listCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "list sessions, newest first",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "active", Usage: "only sessions that have not ended"},
			&cli.IntFlag{Name: "limit", Value: 50, Usage: "maximum rows, 0 for all"},
		},
		Action: func(c *cli.Context) error {
			pool, err := openPool(c.Context, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()
			list, err := sessions.NewPGStore(pool).List(c.Context, c.Bool("active"), c.Int("limit"))
			if err != nil {
				return err
			}
			return printSessions(c.App.Writer, list)
		},
	}
}

func printSessions(w io.Writer, list []models.SessionSummary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tMODE\tACTIVE\tVERSION\tCREATED\tENDED")
	for _, s := range list {
		ended := "-"
		if s.EndedAt != nil {
			ended = s.EndedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%d\t%s\t%s\n", s.Code, s.Mode, s.Active, s.Version,
			s.CreatedAt.UTC().Format(time.RFC3339), ended)
	}
	return tw.Flush()
}

// historyReader reads the history tables of a session.
type historyReader interface {
	Buzzes(ctx context.Context, code string) ([]models.BuzzRow, error)
	Leaderboard(ctx context.Context, code string) ([]models.LeaderboardRow, error)
}

func printHistory(ctx context.Context, store historyReader, code string, w io.Writer) error {
	buzzes, err := store.Buzzes(ctx, code)
	if err != nil {
		return fmt.Errorf("buzzes: %w", err)
	}
	board, err := store.Leaderboard(ctx, code)
	if err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if len(buzzes) > 0 {
		fmt.Fprintln(tw, "TRACK\tPLAYER\tTEAM\tTIME\tOUTCOME\tPOINTS")
		for _, b := range buzzes {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%.1f\t%s\t%d\n", b.TrackIndex+1, b.PlayerName, b.Team, b.Elapsed, b.Outcome, b.Points)
		}
	}
	if len(board) > 0 {
		fmt.Fprintln(tw, "RANK\tPLAYER\tPOINTS\tCORRECT")
		for i, e := range board {
			fmt.Fprintf(tw, "%d\t%s\t%d\t%d\n", i+1, e.Name, e.TotalPoints, e.CorrectAnswers)
		}
	}
	return tw.Flush()
}

func historyCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "print the buzz history and quiz leaderboard of a session",
		ArgsUsage: "CODE",
		Action: func(c *cli.Context) error {
			code := c.Args().First()
			if code == "" {
				return fmt.Errorf("session code required")
			}
			pool, err := openPool(c.Context, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()
			return printHistory(c.Context, sessions.NewPGStore(pool), strings.ToUpper(code), c.App.Writer)
		},
	}
}

// pruner deletes sessions older than a cutoff.
type pruner interface {
	PruneOlderThan(ctx context.Context, cutoff time.Time) ([]string, error)
}

// prefixDeleter removes stored objects under a prefix.
type prefixDeleter interface {
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// prune removes sessions created before cutoff along with their player
// photos. Photo deletion failures are reported and do not stop the run.
func prune(ctx context.Context, store pruner, photos prefixDeleter, cutoff time.Time, w io.Writer) (int, error) {
	codes, err := store.PruneOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	for _, code := range codes {
		if photos == nil {
			fmt.Fprintf(w, "pruned %s\n", code)
			continue
		}
		n, err := photos.DeletePrefix(ctx, path.Join(storage.FolderPhotos, code)+"/")
		if err != nil {
			fmt.Fprintf(w, "pruned %s (photos: %v)\n", code, err)
			continue
		}
		fmt.Fprintf(w, "pruned %s (%d photos)\n", code, n)
	}
	return len(codes), nil
}

func pruneCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "prune",
		Usage: "delete sessions older than a given age",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "older-than", Value: cfg.Game.SessionMaxAge(), Usage: "minimum session age"},
			&cli.BoolFlag{Name: "keep-photos", Usage: "do not delete player photos"},
		},
		Action: func(c *cli.Context) error {
			age := c.Duration("older-than")
			if age <= 0 {
				return fmt.Errorf("older-than must be positive")
			}
			pool, err := openPool(c.Context, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			var photos prefixDeleter
			if !c.Bool("keep-photos") && cfg.AWS.Region != "" {
				s3Client, err := storage.NewS3(c.Context, storage.S3Config{
					Region:          cfg.AWS.Region,
					AccessKeyID:     cfg.AWS.AccessKeyID,
					SecretAccessKey: cfg.AWS.SecretAccessKey,
					Bucket:          cfg.AWS.PhotosBucket,
				}, nil)
				if err != nil {
					return err
				}
				photos = s3Client
			}
			n, err := prune(c.Context, sessions.NewPGStore(pool), photos, time.Now().Add(-age), c.App.Writer)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "%d sessions pruned\n", n)
			return nil
		},
	}
}

func queueCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "queue",
		Usage: "show automation job queue depth",
		Action: func(c *cli.Context) error {
			rdb, err := redis.NewClient(c.Context, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, nil)
			if err != nil {
				return err
			}
			defer rdb.Close()
			waiting, dead, err := queue.NewQueue(rdb.Client, nil).Depth(c.Context)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "waiting: %d\ndead-lettered: %d\n", waiting, dead)
			return nil
		},
	}
}
