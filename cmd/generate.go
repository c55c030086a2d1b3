package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/n0n1m/amneziawg-openwrt/internal/exitcode"
	"github.com/n0n1m/amneziawg-openwrt/internal/matrix"
)

// runGenerate builds the matrix for the version arguments and prints it as a
// single JSON line. Nothing is written to stdout when any version fails.
func runGenerate(cmd *cobra.Command, args []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return &exitError{code: exitcode.Failure, err: err}
	}
	defer appInstance.Close(context.WithoutCancel(cmd.Context()))

	logger := appInstance.GetLogger()
	logger.Info("started", zap.Strings("versions", args))

	jobs, err := appInstance.NewBuilder().Build(cmd.Context(), args)
	if err != nil {
		logger.Error("matrix generation failed", zap.Error(err))
		return &exitError{code: exitcode.Failure, err: err, logged: true}
	}

	data, err := matrix.Encode(jobs)
	if err != nil {
		return &exitError{code: exitcode.Failure, err: fmt.Errorf("encode matrix: %w", err)}
	}
	if _, err := fmt.Fprintln(cmd.OutOrStdout(), string(data)); err != nil {
		return &exitError{code: exitcode.Failure, err: fmt.Errorf("write matrix: %w", err)}
	}

	logger.Info("stopped", zap.Int("jobs", len(jobs)))
	return nil
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
