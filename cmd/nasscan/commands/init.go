package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/nasscan/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample nasscan configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/nasscan/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  nasscan init

  # Initialize with custom path
  nasscan init --config /etc/nasscan/config.yaml

  # Force overwrite existing config
  nasscan init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()

	var err error
	if configPath != "" {
		err = config.InitConfigToPath(configPath, initForce)
	} else {
		configPath, err = config.InitConfig(initForce)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file and fill in your NAS credentials")
	fmt.Println("  2. Start the service with: nasscan start")
	fmt.Printf("  3. Or specify custom config: nasscan start --config %s\n", configPath)

	return nil
}
