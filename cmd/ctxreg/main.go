package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/alfredjeanlab/ctxreg/internal/client"
	"github.com/alfredjeanlab/ctxreg/internal/model"
	"github.com/alfredjeanlab/ctxreg/internal/ui"
	"github.com/spf13/cobra"
)

var (
	serverAddr string
	httpURL    string
	transport  string
	jsonOutput bool
	operatorID int64
	authToken  string

	regClient client.RegistryClient
)

func defaultHTTPURL() string {
	if s := os.Getenv("CTXREG_HTTP_URL"); s != "" {
		return s
	}
	if u := activeRemoteURL(); u != "" {
		return u
	}
	return "http://localhost:8080"
}

func defaultServer() string {
	if s := os.Getenv("CTXREG_SERVER"); s != "" {
		return s
	}
	if a := activeRemoteGRPCAddr(); a != "" {
		return a
	}
	return "localhost:9090"
}

func defaultOperator() int64 {
	if s := os.Getenv("CTXREG_OPERATOR_ID"); s != "" {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	}
	return activeRemote().OperatorID
}

func defaultToken() string {
	if s := os.Getenv("CTXREG_TOKEN"); s != "" {
		return s
	}
	return activeRemoteToken()
}

var rootCmd = &cobra.Command{
	Use:           "ctxreg <command>",
	Short:         "CLI client for the environment and cluster registry",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch transport {
		case "http":
			regClient = client.NewHTTPClient(httpURL, authToken, operatorID)
		case "grpc":
			c, err := client.NewGRPCClient(serverAddr, authToken, operatorID)
			if err != nil {
				return fmt.Errorf("failed to connect to server: %w", err)
			}
			regClient = c
		default:
			return fmt.Errorf("unknown transport %q (must be http or grpc)", transport)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if regClient != nil {
			regClient.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&httpURL, "http-url", defaultHTTPURL(), "HTTP server URL")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", defaultServer(), "gRPC server address")
	rootCmd.PersistentFlags().StringVar(&transport, "transport", "http", "transport protocol (http or grpc)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().Int64Var(&operatorID, "operator", defaultOperator(), "operator id recorded on mutations")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", defaultToken(), "bearer token")

	rootCmd.AddGroup(
		&cobra.Group{ID: "registry", Title: "Registry:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	// Registry
	rootCmd.AddCommand(newKindCmd("env", "Manage environments", model.KindEnvironment))
	rootCmd.AddCommand(newKindCmd("cluster", "Manage clusters", model.KindCluster))
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(exportCmd)

	// System
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(remoteCmd)
}

func main() {
	ui.Init()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.RenderError("Error: ")+err.Error())
		os.Exit(1)
	}
}
