// Package flags provides the flags shared by deployer commands.
//
// Command-specific flags are defined locally in the command file.
package flags

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// MustString returns the string value, ignoring the error.
// Safe to use with registered flags where GetString cannot fail.
func MustString(s string, _ error) string { return s }

// MustStringArray returns the string array value, ignoring the error.
// Safe to use with registered flags where GetStringArray cannot fail.
func MustStringArray(s []string, _ error) []string { return s }

// MustUint64 returns the uint64 value, ignoring the error.
// Safe to use with registered flags where GetUint64 cannot fail.
func MustUint64(n uint64, _ error) uint64 { return n }

// Config adds the --config/-c flag pointing at the YAML config file. When the flag is empty or the
// file does not exist, configuration is read from the environment only.
//
// Usage:
//
//	flags.Config(cmd)
//	// later in RunE:
//	path, _ := cmd.Flags().GetString("config")
func Config(cmd *cobra.Command) {
	cmd.Flags().StringP("config", "c", "", "Path to the deployer config file")
}

// Output adds the --out/-o flag for specifying the output file path. --output is accepted as an
// alias.
//
// Usage:
//
//	flags.Output(cmd, "")
//	// later in RunE:
//	outPath, _ := cmd.Flags().GetString("out")
func Output(cmd *cobra.Command, defaultValue string) {
	cmd.Flags().StringP("out", "o", defaultValue, "Output file path")
	cmd.Flags().SetNormalizeFunc(normalizeAliases)
}

// flagAliases maps accepted alternative flag names to their canonical name.
var flagAliases = map[string]string{
	"output": "out",
}

func normalizeAliases(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	if canonical, ok := flagAliases[name]; ok {
		name = canonical
	}

	return pflag.NormalizedName(name)
}
