package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	models "github.com/aozora-works/kousei-engine/cmd/kousei/models"
	run "github.com/aozora-works/kousei-engine/cmd/kousei/run"
	"github.com/aozora-works/kousei-engine/internal/config"
)

const kouseiPrefix = "KOUSEI"

var Cmd = &cobra.Command{
	Use:   "kousei",
	Short: "Kousei proofreading engine CLI",
	Long:  "Local inference engine for Japanese prose proofreading. Downloads, manages and serves language models on the writer's own machine.",

	// Runs before this command and any subcommands
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		viper.SetEnvPrefix(kouseiPrefix)
		viper.SetEnvKeyReplacer(strings.NewReplacer(
			`-`, `_`,
			`.`, `_`,
		))
		viper.AutomaticEnv()

		if err := viper.BindPFlags(cmd.Flags()); err != nil {
			return err
		}
		if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
			return err
		}

		return config.LoadEnvAndConfigFiles()
	},
}

func GetRootCmd() *cobra.Command {
	return Cmd
}

func Execute() {
	if err := Cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pflags := Cmd.PersistentFlags()

	pflags.String("kousei-home", "", "Path to the kousei home directory")
	pflags.String("config-file", "", "Path to the config file")
	pflags.String("env-file", "", "Path to the env file")

	viper.BindPFlag("kousei_home", pflags.Lookup("kousei-home"))
	viper.BindPFlag("config_file", pflags.Lookup("config-file"))
	viper.BindPFlag("env_file", pflags.Lookup("env-file"))

	Cmd.AddCommand(run.Cmd)
	Cmd.AddCommand(models.Cmd)
}
