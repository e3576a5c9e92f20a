package main

import (
	"github.com/spf13/cobra"
)

var version = "dev"

var (
	flagConfig  string
	flagEnvFile string
	flagIDToken string
)

var rootCmd = &cobra.Command{
	Use:     "huddle",
	Short:   "Headless peer-to-peer meeting client",
	Long:    `huddle joins video meeting rooms from the command line: it keeps room presence and chat over the signaling channel, captures local media and holds a WebRTC session with every other member.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "config.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&flagEnvFile, "env-file", ".env", "optional env file loaded before the config")
	rootCmd.PersistentFlags().StringVar(&flagIDToken, "id-token", "", "identity token, overrides client.id_token")

	rootCmd.AddCommand(joinCmd, createCmd, shareCmd, roomsCmd, tokenCmd)
}
