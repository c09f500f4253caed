package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"example.com/gymtracker/internal/app"
	"example.com/gymtracker/internal/config"
	"example.com/gymtracker/internal/domain"
	"example.com/gymtracker/internal/geo"
	"example.com/gymtracker/internal/kv"
	"example.com/gymtracker/internal/location"
	"example.com/gymtracker/internal/logging"
	"example.com/gymtracker/internal/tracking"
)

var rootCmd = &cobra.Command{
	Use:   "backgroundtask",
	Short: "Run the gym tracker background location task once",
	Long: `backgroundtask processes a single location fix the way the background
task does when the tracker process is not in the foreground. It reads the
tracked user and open session from the durable store configured through the
usual environment variables.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		logging.Configure(logging.Config{Level: cfg.LogLevel, Service: "gymtracker-backgroundtask"})
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile one location fix against the persisted session",
	RunE:  runReconcile,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the tracked user and open session as JSON",
	RunE:  runStatus,
}

var (
	fixLatitude  float64
	fixLongitude float64
	fixAccuracy  float64
)

func init() {
	reconcileCmd.Flags().Float64Var(&fixLatitude, "lat", 0, "fix latitude in degrees")
	reconcileCmd.Flags().Float64Var(&fixLongitude, "lon", 0, "fix longitude in degrees")
	reconcileCmd.Flags().Float64Var(&fixAccuracy, "accuracy", 0, "fix accuracy in meters")
	_ = reconcileCmd.MarkFlagRequired("lat")
	_ = reconcileCmd.MarkFlagRequired("lon")

	rootCmd.AddCommand(reconcileCmd, statusCmd)
}

func openState(ctx context.Context, cfg config.Config) (*tracking.StateRepository, kv.Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	store, err := kv.Open(ctx, cfg.StoreBackend, cfg.StoreDSN)
	if err != nil {
		return nil, nil, err
	}
	return tracking.NewStateRepository(store, logging.WithComponent("state")), store, nil
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg := config.Load()
	logger := logging.WithComponent("backgroundtask")

	state, store, err := openState(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	fence, err := cfg.Geofence()
	if err != nil {
		return err
	}

	notifier, closeNotifier := app.Notifier(cfg)
	defer closeNotifier()
	manager := app.Manager(tracking.ContextBackground, app.Guard(cfg, "backgroundtask"), app.SessionAPI(cfg, logger), state, notifier)

	var observed *location.Observation
	task := location.NewBackgroundTask(state, fence, manager,
		location.WithBackgroundLogger(logger),
		location.WithBackgroundObserver(func(obs location.Observation) { observed = &obs }),
	)

	fix := location.Fix{
		Coordinate: geo.Coordinate{Latitude: fixLatitude, Longitude: fixLongitude},
		Accuracy:   fixAccuracy,
		Timestamp:  time.Now().UTC(),
	}
	if err := fix.Coordinate.Validate(); err != nil {
		return fmt.Errorf("invalid fix: %w", err)
	}
	if err := task.Handle(ctx, []location.Fix{fix}); err != nil {
		return err
	}
	if observed == nil {
		logger.Info().Msg("no user registered for tracking, fix ignored")
		return nil
	}
	return printJSON(cmd, observed)
}

type status struct {
	UserID  string                  `json:"user_id,omitempty"`
	Session *domain.ActivitySession `json:"session,omitempty"`
	IsInGym bool                    `json:"is_in_gym"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg := config.Load()

	state, store, err := openState(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	userID, _, err := state.LoadUser(ctx)
	if err != nil {
		return err
	}
	session, err := state.LoadSession(ctx)
	if err != nil {
		return err
	}
	return printJSON(cmd, status{UserID: userID, Session: session, IsInGym: session != nil})
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
