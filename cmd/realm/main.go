// The realm command runs one server of the cluster. The server's role, port and
// zone come from its specification in the database, selected with --id.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/dcrodman/realm/internal/core"
	"github.com/dcrodman/realm/internal/core/debug"
	"github.com/dcrodman/realm/internal/server"
)

var (
	ConfigFlag  string
	IDFlag      string
	ConsoleFlag bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "realm",
		Short: "Game server cluster node and related tools",
		Run:   ServerCommand,
	}
	rootCmd.PersistentFlags().StringVarP(&ConfigFlag, "config", "c", "./", "Path to the directory containing the server config file")
	rootCmd.Flags().StringVar(&IDFlag, "id", "", "ID of the server specification to run")
	rootCmd.Flags().BoolVar(&ConsoleFlag, "console", false, "Read server commands from stdin")

	specAddCmd.Flags().StringVar(&ServerTypeFlag, "type", "world", "Server role: authentication, character, world or chat")
	specAddCmd.Flags().IntVar(&PortFlag, "port", 0, "Port the server listens on")
	specAddCmd.Flags().Uint32Var(&ZoneFlag, "zone", 0, "Zone served by a world server")
	specAddCmd.Flags().IntVar(&MaxUsersFlag, "max-users", 50, "Maximum number of concurrent users")
	specListCmd.Flags().StringVar(&ServerTypeFlag, "type", "", "Only list servers with this role")

	specCmd.AddCommand(specAddCmd)
	specCmd.AddCommand(specListCmd)
	specCmd.AddCommand(specRemoveCmd)
	rootCmd.AddCommand(specCmd)

	requestCmd.AddCommand(requestListCmd)
	requestCmd.AddCommand(requestClaimCmd)
	requestCmd.AddCommand(requestFailCmd)
	rootCmd.AddCommand(requestCmd)

	certgenCmd.Flags().StringVarP(&OutputFlag, "out", "o", "./", "Directory to write the certificate and key to")
	rootCmd.AddCommand(certgenCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func ServerCommand(cmd *cobra.Command, args []string) {
	if IDFlag == "" {
		fmt.Println("--id is required")
		os.Exit(1)
	}

	config, err := core.LoadConfig(ConfigFlag)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	fmt.Println("using configuration file:", ConfigFlag)

	logger, err := core.NewLogger(config)
	if err != nil {
		fmt.Println("error initializing logger:", err)
		os.Exit(1)
	}

	// Bind the server to one top-level context so that we can shut down cleanly.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Register a SIGTERM handler so that Ctrl-C will shut the server down gracefully.
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go exitHandler(cancel, c)

	srv := server.New(IDFlag, config, logger)
	srv.Prometheus = prometheus.NewRegistry()
	srv.Prometheus.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if ConsoleFlag {
		srv.Console = os.Stdin
		srv.ConsoleOutput = os.Stdout
	}

	if err := srv.Configure(ctx); err != nil {
		logger.Errorf("error configuring server: %v", err)
		os.Exit(1)
	}

	// Start any debug utilities if we're configured to do so.
	if config.Debugging.Enabled {
		debug.StartUtilities(ctx, logger, config.Debugging.PprofPort, srv.Prometheus)
	}

	srv.OnStopped(cancel)
	if err := srv.Start(ctx); err != nil {
		logger.Errorf("error running server: %v", err)
		os.Exit(1)
	}
	fmt.Println("shut down")
}

func exitHandler(cancelFn func(), c chan os.Signal) {
	<-c
	fmt.Println("waiting to shut down gracefully...")
	cancelFn()

	<-c
	fmt.Println("hard exiting (killed)")
	os.Exit(1)
}
