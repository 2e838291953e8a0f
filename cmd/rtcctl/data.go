package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/patrickwarner/rtcadserve/internal/analytics"
	"github.com/patrickwarner/rtcadserve/internal/config"
	"github.com/patrickwarner/rtcadserve/internal/db"
	"github.com/patrickwarner/rtcadserve/internal/models"
	"github.com/patrickwarner/rtcadserve/internal/observability"
)

func newEventsCmd() *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:   "events REQUEST_ID",
		Short: "Print the analytics events recorded for a request id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dsn == "" {
				dsn = config.Load().ClickHouseDSN
			}
			a, err := analytics.InitClickHouse(cmd.Context(), dsn, observability.NewNoOpRegistry())
			if err != nil {
				return fmt.Errorf("connect clickhouse: %w", err)
			}
			defer a.Close()

			events, err := a.GetEventsByRequestID(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("query events: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(events)
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "ClickHouse DSN, defaults to CLICKHOUSE_DSN")
	return cmd
}

// SlotWriter stores slot definitions.
type SlotWriter interface {
	UpsertSlot(ctx context.Context, s models.Slot) error
}

type importOptions struct {
	dsn        string
	file       string
	reloadURL  string
	skipReload bool
}

func newSlotsCmd(logger *zap.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Manage slot definitions",
	}
	cmd.AddCommand(newSlotsImportCmd(logger))
	return cmd
}

func newSlotsImportCmd(logger *zap.Logger) *cobra.Command {
	opts := &importOptions{}
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Upsert slot definitions from a JSON array into Postgres",
		Long: `Reads a JSON array of slots ({"id", "publisher_id", "attributes"}),
upserts each one into Postgres and asks the running server to reload.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			slots, err := readSlots(cmd.InOrStdin(), opts.file)
			if err != nil {
				return err
			}
			cfg := config.Load()
			if opts.dsn == "" {
				opts.dsn = cfg.PostgresDSN
			}
			pg, err := db.InitPostgres(cmd.Context(), opts.dsn, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pg.Close()

			n, err := importSlots(cmd.Context(), pg, slots)
			if err != nil {
				return err
			}
			logger.Info("imported slots", zap.Int("count", n))
			if _, err := fmt.Fprintf(cmd.OutOrStdout(), "imported %d slots\n", n); err != nil {
				return err
			}

			if opts.skipReload {
				return nil
			}
			if opts.reloadURL == "" {
				opts.reloadURL = fmt.Sprintf("http://localhost:%s/reload", cfg.Port)
			}
			if err := triggerReload(cmd.Context(), opts.reloadURL); err != nil {
				logger.Warn("reload endpoint failed", zap.Error(err))
				return nil
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "server data reloaded")
			return err
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&opts.dsn, "dsn", "", "Postgres DSN, defaults to POSTGRES_DSN")
	fs.StringVarP(&opts.file, "file", "f", "-", "file holding the slots JSON array, - for stdin")
	fs.StringVar(&opts.reloadURL, "reload-url", "", "server reload endpoint, defaults to localhost on PORT")
	fs.BoolVar(&opts.skipReload, "skip-reload", false, "skip the server reload after importing")
	return cmd
}

func readSlots(stdin io.Reader, file string) ([]models.Slot, error) {
	in := stdin
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return nil, fmt.Errorf("open slots: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		in = f
	}
	var raw []models.Slot
	if err := json.NewDecoder(in).Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse slots: %w", err)
	}
	slots := make([]models.Slot, 0, len(raw))
	for _, s := range raw {
		if s.ID == "" {
			return nil, fmt.Errorf("slot without id")
		}
		slots = append(slots, models.NewSlot(s.ID, s.PublisherID, s.Attributes))
	}
	return slots, nil
}

func importSlots(ctx context.Context, w SlotWriter, slots []models.Slot) (int, error) {
	for i, s := range slots {
		if err := w.UpsertSlot(ctx, s); err != nil {
			return i, err
		}
	}
	return len(slots), nil
}

func triggerReload(ctx context.Context, reloadURL string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reloadURL, nil)
	if err != nil {
		return fmt.Errorf("create reload request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("reload request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("reload returned status %d", resp.StatusCode)
	}
	return nil
}
