package main

import (
	"fmt"
	"os"

	"firestore-driver/internal/shared/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func newRootCmd(log logger.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "firestore-driver",
		Short: "firestore-driver - admin and client drivers over one document backend",
		Long: `firestore-driver serves a rule-checked gateway for the client driver and
manages the mock collections of driver test runs.

Settings are read from the environment, optionally from a .env file:
- Store: STORE_BACKEND={memory|mongodb}, MONGODB_URI, MONGODB_DATABASE
- Change feed: REDIS_ADDR (an in-process feed is used when unset)
- Gateway: GATEWAY_ADDR, PROJECT_ID, DATABASE_ID, RULES_FILE
- Auth: JWT_SECRET_KEY, ACCESS_TOKEN_TTL
- Logging: LOG_LEVEL={debug|info|warn|error}, LOG_FORMAT={text|json}, LOG_BACKEND={logrus|zap}
`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
				log.Warnf("Could not load .env file: %v", err)
			}
		},
	}
	cmd.AddCommand(newServeCmd(log), newSweepCmd(log), newTokenCmd(log), newCheckCmd(log))
	return cmd
}

func main() {
	log := logger.NewLogger()
	if err := newRootCmd(log).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
