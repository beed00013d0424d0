// Command ledgerctl is the operator CLI: schema migrations, manual sweeps,
// simulations and development tokens.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gabrielgmza/simply-backoffice-sub001/internal/config"
	"github.com/gabrielgmza/simply-backoffice-sub001/internal/obs"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// env loads configuration lazily so commands that need none still run
// without a valid environment.
type env struct {
	file string
	cfg  *config.Config
}

func (e *env) config() (*config.Config, error) {
	if e.cfg != nil {
		return e.cfg, nil
	}
	cfg, err := config.Load(e.file)
	if err != nil {
		return nil, err
	}
	e.cfg = cfg
	return cfg, nil
}

func (e *env) logger() (*zap.Logger, error) {
	cfg, err := e.config()
	if err != nil {
		return nil, err
	}
	return obs.NewLogger(cfg.LogMode)
}

func newRootCmd() *cobra.Command {
	e := &env{}
	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operate the wallet ledger",
		Version:       obs.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&e.file, "env-file", ".env", "dotenv file loaded before the environment")

	root.AddCommand(migrateCmd(e))
	root.AddCommand(sweepCmd(e))
	root.AddCommand(simulateCmd(e))
	root.AddCommand(tokenCmd(e))
	root.AddCommand(accountCmd(e))
	return root
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
