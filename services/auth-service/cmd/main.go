package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

const serviceName = "auth-service"

var configFile string

var rootCmd = &cobra.Command{
	Use:          serviceName,
	Short:        "Cerberus auth service",
	Long:         `Cerberus auth service - аутентификация, выдача токенов, API ключи и RBAC.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Запустить HTTP и gRPC серверы",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), configFile)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Применить миграции базы данных",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrate(cmd.Context(), configFile)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", os.Getenv("CONFIG_FILE"), "config file (yaml or json)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
		os.Exit(1)
	}
}
