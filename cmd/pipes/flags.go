package main

import (
	"fmt"
	"os"

	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	flag "github.com/spf13/pflag"
	"github.com/tarungka/pipes/internal/config"
)

// initFlags parses the command line and layers the configuration into ko:
// config files, then PIPES_ environment variables, then explicit flags.
func initFlags(ko *koanf.Koanf, args []string) error {
	f := flag.NewFlagSet("pipes", flag.ContinueOnError)
	f.Usage = func() {
		fmt.Println(f.FlagUsages())
		os.Exit(0)
	}

	f.StringSlice("config", []string{"config.yaml"}, "path to one or more config files (will be merged in order)")
	f.String("port", "", "port to host the admin server on, overrides admin.port")
	f.Bool("version", false, "show current version of the build")
	f.Bool("dev", false, "human readable trace logging")

	if err := f.Parse(args); err != nil {
		return fmt.Errorf("error loading flags: %w", err)
	}

	if v, _ := f.GetBool("version"); v {
		ko.Set("version", true)
		return nil
	}

	files, _ := f.GetStringSlice("config")
	if err := config.LoadFiles(ko, files); err != nil {
		return err
	}
	if err := config.LoadEnv(ko); err != nil {
		return err
	}
	if err := ko.Load(posflag.Provider(f, ".", ko), nil); err != nil {
		return fmt.Errorf("error reading flag config: %w", err)
	}
	return nil
}
