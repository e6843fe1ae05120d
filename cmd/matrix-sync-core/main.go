// Command matrix-sync-core is the demo harness for pkg/syncengine: it loads
// a YAML config, opens the reference credential store, logs in (or resumes
// a stored access token), and runs the sync loop until interrupted. A real
// embedder links pkg/syncengine and pkg/matrixclient directly and supplies
// its own UIAdapter/CredentialStore instead of running this binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	_ "github.com/kardianos/minwinsvc" // registers this process as a Windows service when run as one

	"github.com/matrix-org/matrix-sync-core/pkg/store"
	"github.com/matrix-org/matrix-sync-core/setup"
	"github.com/matrix-org/matrix-sync-core/setup/config"
)

var (
	configPath = flag.String("config", "matrix-sync-core.yaml", "path to the YAML config file")
	dsn        = flag.String("db", "matrix-sync-core.db", "credential store connection string (sqlite file path, or postgres://...)")
	userID     = flag.String("user", "", "Matrix user ID to log in as, e.g. @alice:example.org")
	accountID  = flag.String("account", "default", "account ID scoping rows within a shared postgres credential store")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "matrix-sync-core: %v\n", err)
		os.Exit(1)
	}

	db, err := store.Open(*dsn, *accountID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "matrix-sync-core: open credential store: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	password := readPassword()

	rt, err := setup.New(setup.Deps{
		Config: cfg,
		Store:  db,
		UI:     consoleUI{},
		UserID: *userID,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "matrix-sync-core: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	rt.Start(ctx, password)

	waitForShutdown()
	cancel()
	rt.Shutdown()
}

// readPassword prompts on the controlling terminal without echoing input.
// It returns "" (and is never fatal) on blank input or a read error; a blank
// password is enough when a stored access token lets Connection.Start skip
// password login entirely.
func readPassword() string {
	fmt.Fprint(os.Stderr, "Matrix password (leave blank to use a stored session): ")
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return ""
	}
	return string(pw)
}

func waitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
}
