package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"parkinson-voice/pkg/models"
)

var (
	flagAge  float64
	flagSex  string
	flagJSON bool
)

var predictCmd = &cobra.Command{
	Use:   "predict <file.wav>",
	Short: "Run a single recording through the inference pipeline",
	Args:  cobra.ExactArgs(1),
	RunE:  runPredict,
}

func init() {
	predictCmd.Flags().Float64Var(&flagAge, "age", 0, "age covariate for the fusion model")
	predictCmd.Flags().StringVar(&flagSex, "sex", "", "sex covariate for the fusion model (m/f)")
	predictCmd.Flags().BoolVar(&flagJSON, "json", false, "print the result as JSON")
}

func runPredict(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	engine, err := newEngine(ctx, loaded, nil)
	if err != nil {
		return err
	}

	var cov *models.Covariates
	if cmd.Flags().Changed("age") || flagSex != "" {
		cov = &models.Covariates{Sex: flagSex}
		if cmd.Flags().Changed("age") {
			age := flagAge
			cov.Age = &age
		}
	}

	req := models.NewRequest("cli", "cli", args[0], cov)
	res, err := engine.Infer(ctx, req)
	if err != nil {
		return err
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Println(renderResult(args[0], res))
	return nil
}
