package main

import (
	"fmt"

	"github.com/marmos91/dittoecho/pkg/config"
	"github.com/spf13/cobra"
)

var (
	initForce bool
	initPath  string
)

// initCmd writes a commented default configuration file.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if initPath != "" {
			if err := config.InitConfigToPath(initPath, initForce); err != nil {
				return err
			}
			fmt.Printf("Configuration written to %s\n", initPath)
			return nil
		}

		path, err := config.InitConfig(initForce)
		if err != nil {
			return err
		}
		fmt.Printf("Configuration written to %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing configuration file")
	initCmd.Flags().StringVar(&initPath, "path", "", "Write to this path instead of the default location")
}
