package conf

import (
	"fmt"
	"slices"
	"strings"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/lambda-feedback/hotswap/util/cliflags"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

// DefaultConfig maps flat config keys to their default values.
type DefaultConfig map[string]any

type ParseOptions struct {
	// Cli is the cli.Context from urfave/cli
	Cli *cli.Context

	// CliMap is a map of cli flag names to config keys
	CliMap map[string]string

	// Defaults is a map of default values
	Defaults DefaultConfig

	// EnvPrefix is the prefix for env vars
	EnvPrefix string

	// EnvListKeys are config keys whose env values are split
	// on whitespace into lists
	EnvListKeys []string

	// FileName is the name of the configuration file to load
	FileName string

	// Normalize may rewrite or reject the data read from the
	// configuration file, before it is merged
	Normalize func(map[string]any) error

	// Log is the logger to use
	Log *zap.Logger
}

func Parse[C any](opt ParseOptions) (C, error) {
	var log *zap.Logger
	if opt.Log != nil {
		log = opt.Log
	} else {
		log = zap.NewNop()
	}

	k := koanf.New(".")

	var config C

	if opt.Defaults != nil {
		if err := k.Load(confmap.Provider(opt.Defaults, "."), nil); err != nil {
			return config, err
		}
	}

	if opt.FileName != "" {
		data, err := readFile(opt.FileName, opt.Normalize)
		if err != nil {
			log.Error("error parsing file",
				zap.Error(err),
				zap.String("file", opt.FileName),
			)
			return config, err
		}

		if err := k.Load(confmap.Provider(data, ""), nil); err != nil {
			return config, err
		}
	}

	transformPrefixedEnv := func(key, value string) (string, any) {
		name := transformEnv(key, opt.EnvPrefix)
		if slices.Contains(opt.EnvListKeys, name) {
			return name, strings.Fields(value)
		}

		return name, value
	}

	if err := k.Load(env.ProviderWithValue(opt.EnvPrefix, ".", transformPrefixedEnv), nil); err != nil {
		log.Error("error parsing env vars", zap.Error(err))
		return config, err
	}

	if opt.Cli != nil {
		transformFlag := func(s string) string {
			if opt.CliMap != nil {
				if name, ok := opt.CliMap[s]; ok {
					return name
				}
			}

			// replace - with _
			return strings.ReplaceAll(strings.ToLower(s), "-", "_")
		}

		if err := k.Load(cliflags.Provider(opt.Cli, ".", transformFlag), nil); err != nil {
			log.Error("error parsing cli flags", zap.Error(err))
			return config, err
		}
	}

	if err := k.UnmarshalWithConf("", &config, koanf.UnmarshalConf{Tag: "conf"}); err != nil {
		log.Error("error unmarshalling config", zap.Error(err))
		return config, err
	}

	return config, nil
}

func readFile(path string, normalize func(map[string]any) error) (map[string]any, error) {
	parser, err := ParserFor(path)
	if err != nil {
		return nil, err
	}

	raw, err := file.Provider(path).ReadBytes()
	if err != nil {
		return nil, err
	}

	data, err := parser.Unmarshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}

	if normalize != nil {
		if err := normalize(data); err != nil {
			return nil, err
		}
	}

	return data, nil
}

func transformEnv(s, prefix string) string {
	// allow specifying nested env vars w/ __
	normalized := strings.ReplaceAll(strings.ToLower(s), "__", ".")
	// strip the prefix, if it is set
	if prefix != "" {
		normalized = strings.TrimPrefix(normalized, strings.ToLower(prefix))
		normalized = strings.TrimPrefix(normalized, "_")
	}
	return normalized
}
