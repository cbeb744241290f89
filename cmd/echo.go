package main

import (
	"strconv"

	"pinger/config"
	"pinger/probing"

	"github.com/spf13/cobra"
)

// runEcho reflects datagrams on portArg until the command context is canceled.
func runEcho(cmd *cobra.Command, portArg string) error {
	port, err := strconv.Atoi(portArg)
	if err != nil || port < 1 || port > 65535 {
		return errInvalidPort
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	config.SetupLogger(cfg)

	echo, err := probing.NewEchoer(":" + strconv.Itoa(port))
	if err != nil {
		return err
	}
	return echo.Run(cmd.Context())
}
