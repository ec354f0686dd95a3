package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/open-feature/go-sdk/openfeature"
	"github.com/spf13/cobra"

	"github.com/TimurManjosov/growthbook-openfeature-go/engine"
	"github.com/TimurManjosov/growthbook-openfeature-go/growthbook"
	"github.com/TimurManjosov/growthbook-openfeature-go/internal/cli"
	"github.com/TimurManjosov/growthbook-openfeature-go/internal/logging"
)

var (
	evalType     string
	evalDefault  string
	targetingKey string
	attrs        []string
	fixtures     string
	evalTimeout  time.Duration
)

// errEvaluationFailed makes the command exit non-zero after printing a failed result.
var errEvaluationFailed = errors.New("evaluation failed")

var evalCmd = &cobra.Command{
	Use:   "eval <key>",
	Short: "Evaluate a feature flag",
	Long: `Evaluate one feature flag for an evaluation context.

Attribute values are parsed as JSON when possible (--attr age=42, --attr beta=true)
and used as plain strings otherwise.

Examples:
  gbflag eval new-checkout --type bool --targeting-key user-123
  gbflag eval banner --default Hello --attr country=DE
  gbflag eval limits --type object --fixtures features.yaml --format yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]

		evalCtx, err := buildContext(targetingKey, attrs)
		if err != nil {
			return err
		}

		provider, err := newProvider()
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}
		if err := provider.Init(openfeature.EvaluationContext{}); err != nil {
			return err
		}
		defer provider.Shutdown()

		ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
		defer cancel()

		res, err := evaluate(ctx, provider, key, evalType, evalDefault, evalCtx)
		if err != nil {
			return err
		}

		if !quiet {
			if err := cli.PrintResult(os.Stdout, res, cli.OutputFormat(format)); err != nil {
				return err
			}
		}
		if res.ErrorCode != "" {
			return errEvaluationFailed
		}
		return nil
	},
}

func newProvider() (*growthbook.Provider, error) {
	level := "warn"
	if verbose {
		level = "debug"
	}
	logger, err := logging.New(os.Stderr, level, "console")
	if err != nil {
		return nil, err
	}

	if fixtures != "" {
		features, err := engine.LoadFile(fixtures)
		if err != nil {
			return nil, err
		}
		return growthbook.New(growthbook.Options{},
			growthbook.WithEngine(engine.NewStatic(features)),
			growthbook.WithLogger(logger),
		)
	}

	p, name, err := cli.ResolveProfile(profile, cli.Profile{
		APIHost:       apiHost,
		ClientKey:     clientKey,
		DecryptionKey: decryptionKey,
	})
	if err != nil {
		return nil, err
	}
	logger.Debug().Str("profile", name).Str("api_host", p.APIHost).Msg("using connection settings")

	return growthbook.New(growthbook.Options{
		APIHost:       p.APIHost,
		ClientKey:     p.ClientKey,
		DecryptionKey: p.DecryptionKey,
		CacheTTL:      -1,
		InitTimeout:   evalTimeout,
	}, growthbook.WithLogger(logger))
}

// buildContext turns --targeting-key and --attr flags into a flattened context.
func buildContext(targetingKey string, pairs []string) (openfeature.FlattenedContext, error) {
	flat := openfeature.FlattenedContext{}
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --attr %q, expected key=value", pair)
		}
		var parsed any
		if err := json.Unmarshal([]byte(v), &parsed); err != nil {
			parsed = v
		}
		flat[strings.TrimSpace(k)] = parsed
	}
	if targetingKey != "" {
		flat[openfeature.TargetingKey] = targetingKey
	}
	return flat, nil
}

func evaluate(ctx context.Context, p *growthbook.Provider, key, typ, def string, flat openfeature.FlattenedContext) (cli.EvalResult, error) {
	out := cli.EvalResult{Key: key, Type: typ}
	var detail openfeature.ProviderResolutionDetail

	switch typ {
	case "bool", "boolean":
		d := false
		if def != "" {
			v, err := strconv.ParseBool(def)
			if err != nil {
				return out, fmt.Errorf("invalid boolean default %q", def)
			}
			d = v
		}
		r := p.BooleanEvaluation(ctx, key, d, flat)
		out.Value, detail = r.Value, r.ProviderResolutionDetail
	case "string":
		r := p.StringEvaluation(ctx, key, def, flat)
		out.Value, detail = r.Value, r.ProviderResolutionDetail
	case "int", "integer":
		var d int64
		if def != "" {
			v, err := strconv.ParseInt(def, 10, 64)
			if err != nil {
				return out, fmt.Errorf("invalid integer default %q", def)
			}
			d = v
		}
		r := p.IntEvaluation(ctx, key, d, flat)
		out.Value, detail = r.Value, r.ProviderResolutionDetail
	case "float", "number":
		var d float64
		if def != "" {
			v, err := strconv.ParseFloat(def, 64)
			if err != nil {
				return out, fmt.Errorf("invalid float default %q", def)
			}
			d = v
		}
		r := p.FloatEvaluation(ctx, key, d, flat)
		out.Value, detail = r.Value, r.ProviderResolutionDetail
	case "object", "json":
		var d any
		if def != "" {
			if err := json.Unmarshal([]byte(def), &d); err != nil {
				return out, fmt.Errorf("invalid JSON default: %w", err)
			}
		}
		r := p.ObjectEvaluation(ctx, key, d, flat)
		out.Value, detail = r.Value, r.ProviderResolutionDetail
	default:
		return out, fmt.Errorf("unsupported type %q (bool, string, int, float, object)", typ)
	}

	rd := detail.ResolutionDetail()
	out.Variant = rd.Variant
	out.Reason = string(rd.Reason)
	out.ErrorCode = string(rd.ErrorCode)
	out.ErrorMessage = rd.ErrorMessage
	out.Metadata = rd.FlagMetadata
	return out, nil
}

func init() {
	evalCmd.Flags().StringVarP(&evalType, "type", "t", "string", "Flag type (bool, string, int, float, object)")
	evalCmd.Flags().StringVarP(&evalDefault, "default", "d", "", "Default value returned on errors")
	evalCmd.Flags().StringVarP(&targetingKey, "targeting-key", "k", "", "Targeting key (sent as the id attribute)")
	evalCmd.Flags().StringArrayVarP(&attrs, "attr", "a", nil, "Context attribute as key=value (repeatable)")
	evalCmd.Flags().StringVar(&fixtures, "fixtures", "", "Evaluate against a YAML fixtures file instead of GrowthBook")
	evalCmd.Flags().DurationVar(&evalTimeout, "timeout", 15*time.Second, "Evaluation timeout")
	rootCmd.AddCommand(evalCmd)
}
