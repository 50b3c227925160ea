package gopaddle

import (
	"github.com/rs/zerolog"

	"github.com/knights-analytics/gopaddle/capi"
	"github.com/knights-analytics/gopaddle/metrics"
)

type predictorOptions struct {
	engine  capi.Engine
	logger  *zerolog.Logger
	metrics *metrics.Metrics
}

// PredictorOption is the interface for all predictor option functions
type PredictorOption func(o *predictorOptions)

// WithEngine Use this function to run against a specific capi.Engine, for example a capi.Recorder.
// By default, the native engine is used, which requires building with cgo and `-tags PADDLE`.
func WithEngine(engine capi.Engine) PredictorOption {
	return func(o *predictorOptions) {
		o.engine = engine
	}
}

// WithLogger Sets the logger for the predictor and its clones. Default is the util/logging package logger.
func WithLogger(logger zerolog.Logger) PredictorOption {
	return func(o *predictorOptions) {
		o.logger = &logger
	}
}

// WithMetrics Sets the collectors the predictor reports to. Default is metrics.Default.
func WithMetrics(m *metrics.Metrics) PredictorOption {
	return func(o *predictorOptions) {
		o.metrics = m
	}
}
