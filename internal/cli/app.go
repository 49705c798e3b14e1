// Package cli implements the kickclip command line: the long-running serve
// command and the one-shot process, rating, training and maintenance
// commands. Every command builds the same component graph through App.
package cli

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/damian-maker/IA-KICK/internal/config"
	"github.com/damian-maker/IA-KICK/internal/db"
	"github.com/damian-maker/IA-KICK/internal/ledger"
	"github.com/damian-maker/IA-KICK/internal/logging"
	"github.com/damian-maker/IA-KICK/internal/media"
	"github.com/damian-maker/IA-KICK/internal/model"
	"github.com/damian-maker/IA-KICK/internal/resolve"
	"github.com/damian-maker/IA-KICK/internal/session"
)

// App is the wired component graph shared by every command.
type App struct {
	Config   *config.EnvConfig
	Logger   *slog.Logger
	DB       *db.DB
	Repo     *ledger.SQLiteRepository
	Ledger   *ledger.Service
	Models   *model.Hybrid
	Media    *media.FFmpeg
	Doctor   *media.Doctor
	Resolver *resolve.Resolver
	Session  *session.Session
	Runner   *session.Runner
}

type options struct {
	logLevel string
	logOut   io.Writer
}

// Open loads the configuration and builds the component graph. The caller
// must Close the App.
func Open(opts options) (*App, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	for _, dir := range []string{cfg.DataDir(), cfg.ModelDir(), cfg.OutputDir(), cfg.TempDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	level := cfg.LogLevel()
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	out := opts.logOut
	if out == nil {
		out = os.Stderr
	}
	logger := logging.NewLoggerTo(out, level)

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	proc := cfg.Processing()
	params := model.DefaultParams()
	params.NEstimators = proc.NEstimators
	params.LearningRate = proc.LearningRate
	params.MaxDepth = proc.MaxDepth
	params.Seed = proc.Seed

	models := model.NewHybrid(model.NewStore(cfg.ModelDir()), model.HybridConfig{
		Alpha:      proc.BlendAlpha,
		Params:     params,
		MinSamples: proc.MinTrainingSamples,
	}, logger)
	models.LoadAll()

	repo := ledger.NewRepository(database.Conn())
	svc := ledger.NewService(repo, models, ledger.ServiceConfig{
		RetrainInterval: proc.RetrainInterval,
		MinSamples:      proc.MinTrainingSamples,
	}, logger)

	mcfg := media.DefaultConfig(cfg.TempDir(), logger)
	if p := cfg.FFmpegPath(); p != "" {
		mcfg.FFmpegPath = p
	}
	if p := cfg.FFprobePath(); p != "" {
		mcfg.FFprobePath = p
	}
	mcfg.SampleRate = proc.SampleRate
	mcfg.ProbeTimeout = cfg.ProbeTimeout()
	ff, err := media.NewFFmpeg(mcfg)
	if err != nil {
		database.Close()
		return nil, err
	}
	doctor := media.NewDoctor(ff, mcfg.FFmpegPath, mcfg.FFprobePath, logger)

	client := resolve.NewClient(cfg.RequestRetries(), cfg.RequestBackoff(), cfg.RequestTimeout(), logger)
	resolver := resolve.NewResolver(cfg.KickAPIBase(), client, logger)

	sess := session.New(proc, session.Deps{
		Prober:  ff,
		Decoder: ff,
		Cutter:  ff,
		Scorer:  models,
		Ledger:  svc,
		Logger:  logger,
	})
	runner := session.NewRunner(sess, repo, resolver, session.RunnerConfig{
		OutputDir:    cfg.OutputDir(),
		ClipDuration: proc.ClipDuration,
		MinGap:       proc.MinGap,
	}, logger)

	return &App{
		Config:   cfg,
		Logger:   logger,
		DB:       database,
		Repo:     repo,
		Ledger:   svc,
		Models:   models,
		Media:    ff,
		Doctor:   doctor,
		Resolver: resolver,
		Session:  sess,
		Runner:   runner,
	}, nil
}

func (a *App) Close() error {
	return a.DB.Close()
}

// EnsureAuthToken returns the API token, generating and storing one on first
// use.
func EnsureAuthToken(ctx context.Context, repo ledger.Repository) (string, error) {
	existing, err := repo.GetConfig(ctx, ledger.ConfigKeyAuthToken)
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, ledger.ConfigKeyAuthToken, token); err != nil {
		return "", err
	}
	return token, nil
}
