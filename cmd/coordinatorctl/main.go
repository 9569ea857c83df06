// Command coordinatorctl is an operator CLI for the upload coordinator:
// it can trigger an out-of-band recovery sweep and inspect a session's
// status directly against the metadata store, without going through the
// HTTP API.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/securestor/securestor/internal/blobstore"
	"github.com/securestor/securestor/internal/config"
	"github.com/securestor/securestor/internal/database"
	"github.com/securestor/securestor/internal/finalize"
	"github.com/securestor/securestor/internal/logger"
	"github.com/securestor/securestor/internal/recovery"
	"github.com/securestor/securestor/internal/repository"
	"github.com/securestor/securestor/internal/validator"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "coordinatorctl",
		Short: "Operator CLI for the upload coordinator",
	}

	rootCmd.AddCommand(newSweepCmd(), newStatusCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run the RecoveryService sweeps once and report counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, blobs, v, log, db, err := bootstrap()
			if err != nil {
				return err
			}
			defer db.Close()

			finalizer := finalize.NewFinalizer(store, blobs, v, log)
			svc := recovery.NewService(store, blobs, finalizer, cfg.AbandonmentTimeout, log)

			counts, err := svc.RunOnce(context.Background())
			if err != nil {
				return fmt.Errorf("sweep failed: %w", err)
			}

			fmt.Printf("processing recovered: %d\n", counts.ProcessingRecovered)
			fmt.Printf("uploading finalized:  %d\n", counts.UploadingFinalized)
			fmt.Printf("abandoned reaped:     %d\n", counts.Abandoned)
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <session-id>",
		Short: "Print a session's status and chunk progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid session id: %w", err)
			}

			_, store, _, _, _, db, err := bootstrap()
			if err != nil {
				return err
			}
			defer db.Close()

			sess, err := store.GetSession(context.Background(), id)
			if err != nil {
				return err
			}
			total, successful, err := store.CountChunks(context.Background(), id)
			if err != nil {
				return err
			}

			fmt.Printf("session:   %s\n", sess.ID)
			fmt.Printf("filename:  %s\n", sess.Filename)
			fmt.Printf("status:    %s\n", sess.Status)
			fmt.Printf("progress:  %d/%d chunks\n", successful, total)
			if sess.FinalHash != nil {
				fmt.Printf("hash:      %s\n", *sess.FinalHash)
			}
			return nil
		},
	}
}

func bootstrap() (*config.Config, *repository.PostgresMetaStore, *blobstore.BlobStore, *validator.Validator, *logger.Logger, *sql.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, nil, nil, nil, err
	}
	log := logger.NewLogger("coordinatorctl")

	db, err := database.NewPostgresDB(cfg.DatabaseURL, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
	if err != nil {
		return nil, nil, nil, nil, nil, nil, err
	}

	store := repository.NewPostgresMetaStore(db)
	blobs := blobstore.New(log)
	v := validator.New()

	return cfg, store, blobs, v, log, db, nil
}
