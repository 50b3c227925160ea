package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/knights-analytics/gopaddle"
	"github.com/knights-analytics/gopaddle/capi"
	"github.com/knights-analytics/gopaddle/config"
	"github.com/knights-analytics/gopaddle/util/logging"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var configPath string
var dryRun bool
var logLevel string
var logFormat string
var metricsAddr string
var installRoot string

var configFlag = &cli.StringFlag{
	Name:        "config",
	Usage:       "Path to the predictor configuration (.json, .yaml or .yml, local or s3://)",
	Aliases:     []string{"c"},
	Destination: &configPath,
	Required:    true,
}

var dryRunFlag = &cli.BoolFlag{
	Name:        "dry-run",
	Usage:       "Use the in-process recording engine instead of Paddle Inference. It declares one input x and one output out, and echoes x into out",
	Destination: &dryRun,
}

var planCommand = &cli.Command{
	Name:  "plan",
	Usage: "Print the native calls a configuration translates to, without loading Paddle Inference",
	Flags: []cli.Flag{configFlag},
	Action: func(ctx *cli.Context) error {
		cfg, err := config.Load(ctx.Context, configPath)
		if err != nil {
			return err
		}
		rec := capi.NewRecorder()
		p, err := gopaddle.NewPredictor(cfg, gopaddle.WithEngine(rec), gopaddle.WithLogger(logging.Logger()))
		if err != nil {
			return err
		}
		defer p.Destroy()
		for _, call := range rec.Calls() {
			if _, err = fmt.Fprintln(ctx.App.Writer, call.String()); err != nil {
				return err
			}
		}
		return nil
	},
}

var namesCommand = &cli.Command{
	Name:  "names",
	Usage: "Print the input and output tensor names of a model as JSON",
	Flags: []cli.Flag{configFlag, dryRunFlag},
	Action: func(ctx *cli.Context) error {
		p, err := newPredictor(ctx)
		if err != nil {
			return err
		}
		defer p.Destroy()
		inputs, err := p.InputNames()
		if err != nil {
			return err
		}
		outputs, err := p.OutputNames()
		if err != nil {
			return err
		}
		out, err := json.Marshal(map[string][]string{"inputs": inputs, "outputs": outputs})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(ctx.App.Writer, string(out))
		return err
	},
}

var envCommand = &cli.Command{
	Name:  "env",
	Usage: "Print the shell exports needed to build against a Paddle Inference C install",
	Description: `env inspects the install root given with --root, or $PADDLE_INFERENCE, and prints CGO_CFLAGS,
				CGO_LDFLAGS and LD_LIBRARY_PATH for it. Build with: eval "$(gopaddle env)" && go build -tags PADDLE`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:        "root",
			Usage:       "Paddle Inference C install root. Falls back to $" + capi.EnvInstallRoot,
			Destination: &installRoot,
		},
	},
	Action: func(ctx *cli.Context) error {
		layout, err := capi.LibraryLayout(installRoot)
		if err != nil {
			return err
		}
		logger := logging.Logger()
		for _, missing := range layout.Missing {
			logger.Warn().Str("dir", missing).Msg("library directory not found")
		}
		_, err = fmt.Fprintf(ctx.App.Writer, "export CGO_CFLAGS=%q\nexport CGO_LDFLAGS=%q\nexport LD_LIBRARY_PATH=%q\n",
			layout.CgoCFlags(), layout.CgoLDFlags(), layout.LDLibraryPath(os.Getenv("LD_LIBRARY_PATH")))
		return err
	},
}

func newPredictor(ctx *cli.Context) (*gopaddle.Predictor, error) {
	cfg, err := config.Load(ctx.Context, configPath)
	if err != nil {
		return nil, err
	}
	opts := []gopaddle.PredictorOption{gopaddle.WithLogger(logging.Logger())}
	if dryRun {
		opts = append(opts, gopaddle.WithEngine(capi.NewRecorder()))
	}
	return gopaddle.NewPredictor(cfg, opts...)
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger := logging.Logger()
		logger.Info().Str("address", addr+"/metrics").Msg("metrics serving")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "gopaddle",
		Usage: "Paddle Inference predictors from the command line",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "trace, debug, info, warn, error or off",
				Value:       "info",
				Destination: &logLevel,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Usage:       "console or json",
				Value:       "console",
				Destination: &logFormat,
			},
			&cli.StringFlag{
				Name:        "metrics-addr",
				Usage:       "Serve Prometheus metrics on this address, e.g. :9090",
				Destination: &metricsAddr,
			},
		},
		Before: func(ctx *cli.Context) error {
			logging.Setup(logLevel, logFormat)
			if metricsAddr != "" {
				serveMetrics(metricsAddr)
			}
			return nil
		},
		Commands: []*cli.Command{planCommand, namesCommand, runCommand, envCommand},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logger := logging.Logger()
		logger.Error().Err(err).Msg("gopaddle failed")
		os.Exit(1)
	}
}
