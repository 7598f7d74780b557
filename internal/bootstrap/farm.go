// Package bootstrap assembles the farm engine from CAP_* environment
// configuration: which store backs it, where artifacts go, and the
// session/reward tuning knobs.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/odong444/cap-api/internal/artifacts"
	"github.com/odong444/cap-api/internal/farm"
	"github.com/odong444/cap-api/internal/state"
)

func NewEngineFromEnv(ctx context.Context) (*farm.Engine, error) {
	store, err := newStore(getenv("CAP_STORE", "memory"))
	if err != nil {
		return nil, err
	}
	arts, err := newArtifactStore(ctx, getenv("CAP_ARTIFACT_BACKEND", "inline"))
	if err != nil {
		return nil, err
	}
	timeoutSeconds := getenvInt("CAP_SESSION_TIMEOUT_SECONDS", 300)
	return farm.NewEngine(store, farm.Options{
		SessionTimeout:    time.Duration(timeoutSeconds) * time.Second,
		MaxActiveSessions: getenvInt("CAP_MAX_ACTIVE_SESSIONS", farm.DefaultMaxActiveSessions),
		SolveReward:       int64(getenvInt("CAP_SOLVE_REWARD", farm.DefaultSolveReward)),
		MinWithdrawal:     int64(getenvInt("CAP_MIN_WITHDRAWAL", farm.DefaultMinWithdrawal)),
		Artifacts:         arts,
	}), nil
}

func ReaperInterval() time.Duration {
	return time.Duration(getenvInt("CAP_REAPER_INTERVAL_SECONDS", 30)) * time.Second
}

func newStore(kind string) (state.Store, error) {
	switch kind {
	case "memory":
		return state.NewMemoryStore(), nil
	case "postgres":
		dsn := os.Getenv("CAP_POSTGRES_DSN")
		if dsn == "" {
			return nil, fmt.Errorf("CAP_POSTGRES_DSN is required when CAP_STORE=postgres")
		}
		return state.NewPostgresStore(dsn)
	default:
		return nil, fmt.Errorf("unsupported CAP_STORE value %q", kind)
	}
}

func newArtifactStore(ctx context.Context, kind string) (artifacts.Store, error) {
	switch kind {
	case "inline":
		return artifacts.NewInlineStore(), nil
	case "minio":
		return artifacts.NewMinIOStore(ctx, artifacts.MinIOConfig{
			Endpoint:  os.Getenv("CAP_MINIO_ENDPOINT"),
			AccessKey: os.Getenv("CAP_MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("CAP_MINIO_SECRET_KEY"),
			Bucket:    getenv("CAP_MINIO_BUCKET", "cap-artifacts"),
			UseSSL:    getenv("CAP_MINIO_USE_SSL", "false") == "true",
		})
	default:
		return nil, fmt.Errorf("unsupported CAP_ARTIFACT_BACKEND value %q", kind)
	}
}

func getenv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
