package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"smsbridge/internal/config"
	"smsbridge/internal/directory"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your smsbridge installation",
		Long: `Verifies that the configuration, the identity directory, Flowroute
credentials and the callback server port are correctly set up. Reports
pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.ExpandPath(resolveConfigPath())
			fmt.Printf("smsbridge doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'smsbridge init' to create a starter configuration.\n")
				return fmt.Errorf("config file not found")
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Read(cfgPath)
			if err != nil {
				printFail("Config parse", err.Error())
				return fmt.Errorf("config cannot be parsed")
			}
			if err := config.Validate(cfg); err != nil {
				printFail("Config validation", err.Error())
				failed++
			} else {
				printPass("Config validation", "valid")
				passed++
			}

			// 3. Directory
			dir, err := directory.New(cfg.Directory, cfg.Relay.DefaultCountryCode)
			switch {
			case err != nil:
				printFail("Directory", err.Error())
				failed++
			case len(dir.SharedIdentities()) > 0:
				printWarn("Directory", fmt.Sprintf("%d entries, identities with several numbers: %v", dir.Len(), dir.SharedIdentities()))
				warned++
			default:
				printPass("Directory", fmt.Sprintf("%d entries", dir.Len()))
				passed++
			}

			// 4. Flowroute reachable with these credentials
			if cfg.Telephony.AccessKey == "" || cfg.Telephony.SecretKey == "" {
				printFail("Flowroute", "access key or secret key missing")
				failed++
			} else if err := checkFlowroute(cfg); err != nil {
				printFail("Flowroute", err.Error())
				failed++
			} else {
				printPass("Flowroute", cfg.Telephony.APIBase)
				passed++
			}

			// 5. Callback server port
			if cfg.Server.Enabled {
				if err := checkPort(cfg.Server.Host, cfg.Server.Port); err != nil {
					printWarn("Callback port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
					warned++
				} else {
					printPass("Callback port", fmt.Sprintf(":%d available", cfg.Server.Port))
					passed++
				}
			} else if !cfg.Telephony.Poll {
				printFail("Inbound", "polling and callback server are both disabled")
				failed++
			}

			// 6. Log file writable
			if cfg.Log.File != "" {
				dir := filepath.Dir(config.ExpandPath(cfg.Log.File))
				if err := os.MkdirAll(dir, 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.Log.File)
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running smsbridge.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nsmsbridge should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! smsbridge is ready to run.\n")
			}
			return nil
		},
	}
}

// checkFlowroute lists one message from the last hour to prove the
// credentials are accepted.
func checkFlowroute(cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_, err := newFlowroute(cfg).Recent(ctx, time.Now().Add(-time.Hour), 1)
	return err
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
