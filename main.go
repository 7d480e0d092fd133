package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"sdxl-sizer/api"
	"sdxl-sizer/config"
	"sdxl-sizer/preset"
	"sdxl-sizer/refimage"
	"sdxl-sizer/session"
)

var version = "dev"

// env is shared by all subcommands once the command line has been parsed.
type env struct {
	cfg           *config.Config
	log           *zap.Logger
	start         time.Time
	restoreStdLog func()
}

var appEnv = &env{start: time.Now()}

func initializeAppContext(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	var err error

	configFile := cmd.String("config")
	if appEnv.cfg, err = config.LoadConfiguration(configFile); err != nil {
		return ctx, fmt.Errorf("unable to prepare configuration: %w", err)
	}
	if appEnv.log, err = appEnv.cfg.Logging.Prepare(cmd.Bool("debug")); err != nil {
		return ctx, fmt.Errorf("unable to prepare logs: %w", err)
	}
	appEnv.restoreStdLog = zap.RedirectStdLog(appEnv.log)

	appEnv.log.Debug("Program started", zap.Strings("args", os.Args), zap.String("ver", version), zap.String("runtime", runtime.Version()))
	if len(configFile) == 0 {
		appEnv.log.Debug("Using defaults (no configuration file)")
	}
	return ctx, nil
}

func destroyAppContext(ctx context.Context, cmd *cli.Command) error {
	if appEnv.log != nil {
		appEnv.log.Debug("Program ended", zap.Duration("elapsed", time.Since(appEnv.start)))
		_ = appEnv.log.Sync()
	}
	if appEnv.restoreStdLog != nil {
		appEnv.restoreStdLog()
	}
	return nil
}

func exitErrHandler(ctx context.Context, _ *cli.Command, err error) {
	if appEnv.log != nil {
		appEnv.log.Error("Program ended with error", zap.Error(err))
	}
}

// loadCatalog reads the resolution list. Failing here is fatal: the panel is
// useless without presets.
func loadCatalog(cmd *cli.Command) (*preset.Catalog, error) {
	path := appEnv.cfg.Catalog.Path
	if p := cmd.String("resolutions"); p != "" {
		path = p
	}
	catalog, err := preset.LoadCatalog(path)
	if err != nil {
		return nil, fmt.Errorf("unable to load resolutions: %w", err)
	}
	appEnv.log.Info("Loaded resolutions", zap.Int("count", catalog.Len()), zap.String("source", path))
	return catalog, nil
}

func probeOptions(cfg *config.Config) refimage.Options {
	return refimage.Options{AutoOrient: cfg.Images.AutoOrient, MaxPixels: cfg.Images.MaxPixels}
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg := appEnv.cfg
	if l := cmd.String("listen"); l != "" {
		cfg.Server.Listen = l
	}

	catalog, err := loadCatalog(cmd)
	if err != nil {
		return err
	}

	manager := session.NewManager(catalog, appEnv.log.Named("panel"))
	prober := refimage.NewProber(probeOptions(cfg), cfg.Images.CacheTTL)

	var static fs.FS = staticFiles
	if len(cfg.Server.StaticDir) > 0 {
		static = os.DirFS(cfg.Server.StaticDir)
	}
	router := api.RegisterRoutes(manager, prober, static, appEnv.log.Named("http"), api.Limits{
		MaxUploadBytes:   cfg.Server.MaxUploadBytes,
		UploadsPerSecond: cfg.Server.UploadsPerSecond,
		UploadBurst:      cfg.Server.UploadBurst,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()
	appEnv.log.Info("Panel service listening", zap.String("addr", cfg.Server.Listen))

	select {
	case err := <-serveErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	appEnv.log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// hijacked websocket connections are not tracked by Shutdown, closing
	// the panels makes their handlers hang up
	manager.Close()
	err = srv.Shutdown(shutdownCtx)
	if er := <-serveErr; er != nil && !errors.Is(er, http.ErrServerClosed) {
		err = multierr.Append(err, er)
	}
	return err
}

func list(ctx context.Context, cmd *cli.Command) error {
	catalog, err := loadCatalog(cmd)
	if err != nil {
		return err
	}
	for _, label := range catalog.Labels() {
		p, _ := catalog.Lookup(label)
		fmt.Fprintf(os.Stdout, "%-20s %5d %5d  %.4f\n", label, p.Width, p.Height, p.Ratio)
	}
	return nil
}

func match(ctx context.Context, cmd *cli.Command) error {
	if cmd.NArg() == 0 {
		return errors.New("no image files specified")
	}
	catalog, err := loadCatalog(cmd)
	if err != nil {
		return err
	}

	cfg := appEnv.cfg
	prober := refimage.NewProber(probeOptions(cfg), 0)
	sources := make([]preset.Source, 0, cmd.NArg())
	for _, name := range cmd.Args().Slice() {
		data, err := os.ReadFile(name)
		if err != nil {
			return fmt.Errorf("unable to read image: %w", err)
		}
		img, err := prober.Probe(data)
		if errors.Is(err, refimage.ErrUnsupported) {
			appEnv.log.Warn("Skipping file", zap.String("file", name), zap.Error(err))
			continue
		}
		if err != nil {
			return fmt.Errorf("unable to probe '%s': %w", name, err)
		}
		appEnv.log.Debug("Probed image", zap.String("file", name), zap.Int("width", img.Width), zap.Int("height", img.Height))
		sources = append(sources, img)
	}

	m, err := catalog.BestMatch(sources...)
	if err != nil {
		return errors.New(session.Message(err))
	}
	appEnv.log.Info(fmt.Sprintf("Best resolution is %s with abs difference %v", m.Label, m.Difference))
	fmt.Fprintf(os.Stdout, "%s\t%d\t%d\n", m.Label, m.Width, m.Height)
	return nil
}

// configText returns the effective configuration when a file was loaded and
// the default template otherwise.
func configText(configFile string, cfg *config.Config) ([]byte, error) {
	if len(configFile) == 0 || cfg == nil {
		return config.Prepare()
	}
	return config.Dump(cfg)
}

func dumpConfig(ctx context.Context, cmd *cli.Command) error {
	data, err := configText(cmd.Root().String("config"), appEnv.cfg)
	if err != nil {
		return fmt.Errorf("unable to prepare configuration: %w", err)
	}
	if cmd.NArg() == 0 {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(cmd.Args().First(), data, 0644)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	resolutionsFlag := &cli.StringFlag{
		Name:    "resolutions",
		Aliases: []string{"r"},
		Usage:   "JSON file with \"<width>x<height>\" resolutions (overrides configuration)",
		Sources: cli.EnvVars("RESOLUTIONS_FILE"),
	}

	app := &cli.Command{
		Name:            config.AppName,
		Usage:           "SDXL resolution preset panel",
		Version:         version + " (" + runtime.Version() + ")",
		HideHelpCommand: true,
		Before:          initializeAppContext,
		After:           destroyAppContext,
		ExitErrHandler:  exitErrHandler,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "load configuration from `FILE` (YAML)"},
			&cli.BoolFlag{Name: "debug", Aliases: []string{"d"}, Usage: "log debug messages to console"},
		},
		DefaultCommand: "serve",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Runs the panel service",
				Action: serve,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "listen",
						Aliases: []string{"l"},
						Usage:   "listen on `ADDRESS` (overrides configuration)",
						Sources: cli.EnvVars("LISTEN"),
					},
					resolutionsFlag,
				},
			},
			{
				Name:   "list",
				Usage:  "Prints available presets",
				Action: list,
				Flags:  []cli.Flag{resolutionsFlag},
			},
			{
				Name:      "match",
				Usage:     "Prints the preset closest to the first usable image",
				ArgsUsage: "IMAGE...",
				Action:    match,
				Flags:     []cli.Flag{resolutionsFlag},
			},
			{
				Name:      "dumpconfig",
				Usage:     "Dumps configuration (default, or the loaded one with --config) to the file or stdout",
				ArgsUsage: "[FILE]",
				Action:    dumpConfig,
			},
		},
	}

	err := app.Run(ctx, os.Args)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", config.AppName, err)
		os.Exit(1)
	}
}
