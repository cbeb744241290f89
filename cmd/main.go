package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"pinger/collector"
	"pinger/config"
	packet "pinger/packet_handler"
	"pinger/probing"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const quitCommand = "/quit"

var (
	errUsage       = errors.New("Error: Please call this program with a remote address and port")
	errInvalidHost = errors.New("Not a valid remote host")
	errInvalidPort = errors.New("Not a valid port")
)

func newRootCmd(stdin io.Reader) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "pinger <host> <port> | pinger --echo <port>",
		Short:         "Send a timestamp every second and log the latency of every timestamp received",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			want := 2
			if echo, _ := cmd.Flags().GetBool("echo"); echo {
				want = 1
			}
			if len(args) != want {
				return errUsage
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if echo, _ := cmd.Flags().GetBool("echo"); echo {
				return runEcho(cmd, args[0])
			}
			dest, err := resolveDestination(args[0], args[1])
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			config.SetupLogger(cfg)
			return runPinger(cmd.Context(), cfg, dest, stdin, cmd.OutOrStdout())
		},
	}

	rootCmd.Flags().StringP("config", "c", "", "Config file (default pinger.toml next to the executable)")
	rootCmd.Flags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.Flags().StringP("listen", "l", "", "Local UDP address to bind (default :0)")
	rootCmd.Flags().StringP("log-file", "o", "", "Probe log path (default pinger.txt next to the executable)")
	rootCmd.Flags().Bool("echo", false, "Reflect every datagram received on <port> back to its sender instead of probing")
	return rootCmd
}

// resolveDestination accepts a literal IP or a hostname, using the first address it resolves to.
func resolveDestination(host, portArg string) (*net.UDPAddr, error) {
	port, err := strconv.Atoi(portArg)
	if err != nil || port < 1 || port > 65535 {
		return nil, errInvalidPort
	}
	if ip := net.ParseIP(host); ip != nil {
		return &net.UDPAddr{IP: ip, Port: port}, nil
	}
	addrs, err := net.LookupIP(host)
	if err != nil || len(addrs) == 0 {
		return nil, errInvalidHost
	}
	return &net.UDPAddr{IP: addrs[0], Port: port}, nil
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(configPath, cmd.Flags().Changed("config"))
	if err != nil {
		return nil, err
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if f := cmd.Flags().Lookup("listen"); f != nil && f.Value.String() != "" {
		cfg.ListenAddr = f.Value.String()
	}
	if f := cmd.Flags().Lookup("log-file"); f != nil && f.Value.String() != "" {
		cfg.LogFile = f.Value.String()
	}
	return cfg, nil
}

func runPinger(ctx context.Context, cfg *config.Config, dest *net.UDPAddr, stdin io.Reader, out io.Writer) error {
	log.Info("========================================")
	log.Info("UDP Latency Pinger")
	log.Info("========================================")
	if info, err := collector.GetHostInfo(); err != nil {
		log.Warnf("host info unavailable: %v", err)
	} else {
		log.Infof("Host: %s", info.Summary())
	}
	log.Infof("Remote: %v", dest)
	log.Infof("Poll Interval: %v, Send Retries: %d", cfg.PollInterval(), cfg.SendRetries)

	p := probing.New(cfg, dest, packet.SystemClock{})
	if err := p.Start(ctx); err != nil {
		return err
	}

	quit := make(chan struct{})
	go watchCommands(stdin, quit)

	select {
	case <-quit:
		log.Infof("received %s", quitCommand)
	case <-ctx.Done():
		log.Infof("received shutdown signal")
	case <-p.Done():
	}

	err := p.Stop()
	fmt.Fprintln(out, "Goodbye!")
	return err
}

// watchCommands closes quit when the quit command is read. Other lines are ignored.
// End of input is not a quit, so the pinger keeps running when detached from a terminal.
func watchCommands(r io.Reader, quit chan<- struct{}) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == quitCommand {
			close(quit)
			return
		}
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdin).ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		stop()
		os.Exit(1)
	}
}
