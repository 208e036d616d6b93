// Package obslog builds the *zap.Logger every component is constructed
// with, grounded on distributed-queue/main.go's zap.Must(zap.NewProduction())
// call site.
package obslog

import "go.uber.org/zap"

// New builds a production logger, or a development logger (human-readable,
// debug-level, caller-annotated) when verbose is true.
func New(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
