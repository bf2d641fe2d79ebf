// Package main provides the content engine CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/orneryd/contentengine/config"
	"github.com/orneryd/contentengine/itemstate"
	"github.com/orneryd/contentengine/name"
	"github.com/orneryd/contentengine/nodetype"
	"github.com/orneryd/contentengine/reposvc/badgerservice"
	"github.com/orneryd/contentengine/reposvc/memservice"
	"github.com/orneryd/contentengine/session"
	"github.com/orneryd/contentengine/workspace"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "contentengine",
		Short: "Content Engine - a session-scoped, JCR-style content repository core",
		Long: `contentengine is a hierarchical content repository's session layer:
transient item state with save/refresh, a cached hierarchy view,
node-type constraint validation, and a workspace coordinator that
mediates between client mutations and an asynchronous change feed.`,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("contentengine v%s (%s)\n", version, commit)
		},
	})

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Open a workspace and block until interrupted",
		Long:  "Open a workspace against an in-memory or Badger-backed repository service and idle, ready for embedders to connect a session.",
		RunE:  runServe,
	}
	serveCmd.Flags().String("data-dir", "", "Badger data directory (overrides NCE_SESSION_DATA_DIR)")
	serveCmd.Flags().Bool("in-memory", false, "Use the in-memory repository service instead of Badger")
	rootCmd.AddCommand(serveCmd)

	demoCmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a scripted smoke session against an in-memory workspace",
		RunE:  runDemo,
	}
	rootCmd.AddCommand(demoCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openWorkspace builds a node-type registry, namespace registry, and
// RepositoryService (Badger-backed unless cfg.Session.InMemory), seeded
// with a single bootstrap credential, and wires a Coordinator over it.
func openWorkspace(cfg *config.Config) (*workspace.Coordinator, func() error, error) {
	registry := nodetype.NewRegistry()
	if err := nodetype.LoadBuiltins(registry); err != nil {
		return nil, nil, fmt.Errorf("loading builtin node types: %w", err)
	}
	namespaces := name.NewNamespaceRegistry()

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Session.InitialPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, nil, fmt.Errorf("hashing initial password: %w", err)
	}
	creds := memservice.StaticCredentials{cfg.Session.InitialUsername: string(hash)}

	coordConfig := workspace.DefaultConfig()
	if cfg.Coordinator.CacheBehaviour == "observation" {
		coordConfig.CacheBehaviour = workspace.CacheObservation
	}
	coordConfig.PollTimeout = cfg.Coordinator.PollTimeout

	if cfg.Session.InMemory {
		svc := memservice.New(registry, namespaces, creds)
		coord := workspace.NewCoordinator(svc, workspace.NewLockManager(), coordConfig)
		return coord, func() error { coord.Close(); return nil }, nil
	}

	svc, err := badgerservice.Open(badgerservice.Options{DataDir: cfg.Session.DataDir}, registry, namespaces, creds)
	if err != nil {
		return nil, nil, fmt.Errorf("opening badger-backed service: %w", err)
	}
	coord := workspace.NewCoordinator(svc, workspace.NewLockManager(), coordConfig)
	return coord, func() error {
		coord.Close()
		return svc.Close()
	}, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.LoadFromEnv()
	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.Session.DataDir = dataDir
	}
	if inMemory, _ := cmd.Flags().GetBool("in-memory"); inMemory {
		cfg.Session.InMemory = true
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	fmt.Printf("contentengine v%s starting\n", version)
	if cfg.Session.InMemory {
		fmt.Println("  backend: in-memory")
	} else {
		fmt.Printf("  backend: badger (%s)\n", cfg.Session.DataDir)
	}
	fmt.Printf("  bootstrap user: %s\n", cfg.Session.InitialUsername)

	_, closeFn, err := openWorkspace(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	fmt.Println("workspace ready, press Ctrl+C to stop")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("shutting down...")
	return nil
}

// runDemo exercises a full login/add/save/reload cycle against an
// in-memory workspace, printing each step, so a new embedder can see
// the session API work end to end without standing up Badger.
func runDemo(cmd *cobra.Command, args []string) error {
	cfg := config.LoadFromEnv()
	cfg.Session.InMemory = true

	coord, closeFn, err := openWorkspace(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	registry := nodetype.NewRegistry()
	if err := nodetype.LoadBuiltins(registry); err != nil {
		return err
	}
	namespaces := name.NewNamespaceRegistry()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	sess, err := session.Login(ctx, coord, registry, namespaces, workspace.Credentials{
		Username: cfg.Session.InitialUsername,
		Password: cfg.Session.InitialPassword,
	})
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer sess.Logout()
	fmt.Println("logged in")

	qn := func(local string) name.QName { return name.NewQName("", local) }

	childID, err := sess.AddNode(name.RootNodeID, qn("greeting"), qn("nt:unstructured"))
	if err != nil {
		return fmt.Errorf("addNode: %w", err)
	}
	fmt.Println("added node /greeting")

	greeting := []itemstate.Value{{Type: itemstate.TypeString, Raw: "hello, contentengine"}}
	if _, err := sess.AddProperty(childID, qn("text"), itemstate.TypeString, false, greeting); err != nil {
		return fmt.Errorf("addProperty: %w", err)
	}
	fmt.Println("added property /greeting/text")

	if err := sess.Save(); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	fmt.Println("saved")

	root, err := sess.RootNode()
	if err != nil {
		return fmt.Errorf("rootNode: %w", err)
	}
	fmt.Printf("root primary type: %s\n", root.PrimaryType())

	return nil
}
