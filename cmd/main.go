package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/contextframe/contextframe-go/auth"
	"github.com/contextframe/contextframe-go/capabilities"
	"github.com/contextframe/contextframe-go/config"
	"github.com/contextframe/contextframe-go/mcp"
	"github.com/contextframe/contextframe-go/models"
	"github.com/contextframe/contextframe-go/schema"
	"github.com/contextframe/contextframe-go/services"
	"github.com/contextframe/contextframe-go/services/impl"
	"github.com/contextframe/contextframe-go/storage"
)

// CLI exit codes.
const (
	exitOK          = 0
	exitInvalidArgs = 2
	exitNotFound    = 3
	exitPermission  = 4
	exitNetwork     = 5
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "contextframe",
		Short:         "Document dataset engine and MCP server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(serveCmd(), datasetCmd(), recordCmd(), searchCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	var nfe *models.NotFoundError
	var se *models.StorageError
	switch {
	case errors.As(err, &nfe):
		return exitNotFound
	case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, auth.ErrForbidden):
		return exitPermission
	case errors.As(err, &se):
		return exitNetwork
	default:
		return exitInvalidArgs
	}
}

// openEngine opens the dataset plus the service stack around it.
func openEngine(ctx context.Context, cfg *config.Config, uri string) (services.DatasetService, services.SearchService, services.CollectionService, error) {
	if uri == "" {
		uri = cfg.Dataset.URI
	}
	if uri == "" {
		return nil, nil, nil, fmt.Errorf("no dataset URI; pass --dataset or set CONTEXTFRAME_DATASET_PATH")
	}
	dataset, err := impl.OpenDataset(ctx, uri, 0, &storage.TableOptions{
		StorageOptions: cfg.Dataset.StorageOptions,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	var embedder capabilities.Embedder
	if cfg.Embedder.Provider == "hash" {
		embedder = capabilities.NewHashEmbedder(cfg.Embedder.Dimension)
	}
	search := impl.NewSearchService(dataset, embedder)
	collections := impl.NewCollectionService(dataset)
	return dataset, search, collections, nil
}

func serveCmd() *cobra.Command {
	var transport, host, datasetURI string
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server over HTTP or stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			if host != "" {
				cfg.Server.Host = host
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			ctx := cmd.Context()
			dataset, search, collections, err := openEngine(ctx, cfg, datasetURI)
			if err != nil {
				return err
			}

			cache, err := impl.NewCacheService(&cfg.Redis, nil)
			if err != nil {
				log.Printf("Warning: cache initialization failed, continuing without caching: %v", err)
				cache, _ = impl.NewCacheService(nil, nil)
			}
			auditor, err := auth.NewAuditor(&cfg.Audit)
			if err != nil {
				return err
			}
			chain := auth.NewChain(&cfg.Auth, auditor)

			var embedder capabilities.Embedder
			if cfg.Embedder.Provider == "hash" {
				embedder = capabilities.NewHashEmbedder(cfg.Embedder.Dimension)
			}
			server := mcp.NewServer(cfg, mcp.ServerDeps{
				Dataset:     dataset,
				Search:      search,
				Collections: collections,
				Cache:       cache,
				Embedder:    embedder,
				Chain:       chain,
			})

			if transport == "stdio" {
				log.Println("MCP server on stdio; one frame per line")
				return mcp.NewStdioTransport(server, os.Stdin, os.Stdout).Run(ctx)
			}
			return runHTTP(cfg, server)
		},
	}
	cmd.Flags().StringVar(&transport, "transport", "http", "transport: http or stdio")
	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides config)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides config)")
	cmd.Flags().StringVar(&datasetURI, "dataset", "", "dataset URI to serve")
	return cmd
}

func runHTTP(cfg *config.Config, server *mcp.Server) error {
	srv := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      mcp.NewHTTPTransport(server).Handler(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	go func() {
		log.Printf("ContextFrame MCP server starting on %s", cfg.GetServerAddress())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Println("Server exited")
	return nil
}

func datasetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dataset",
		Short: "Create and inspect datasets",
	}

	var dim int
	createCmd := &cobra.Command{
		Use:   "create <uri>",
		Short: "Create an empty dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			if dim == 0 {
				dim = cfg.Dataset.Dimension
			}
			ds, err := impl.CreateDataset(cmd.Context(), args[0], dim, &storage.TableOptions{
				StorageOptions: cfg.Dataset.StorageOptions,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Created dataset at %s (dimension %d)\n", ds.URI(), dim)
			return nil
		},
	}
	createCmd.Flags().IntVar(&dim, "dim", 0, "vector dimension")

	infoCmd := &cobra.Command{
		Use:   "info <uri>",
		Short: "Show dataset stats and versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			dataset, _, _, err := openEngine(cmd.Context(), cfg, args[0])
			if err != nil {
				return err
			}
			stats, err := dataset.Stats(cmd.Context())
			if err != nil {
				return err
			}
			versions, err := dataset.ListVersions(cmd.Context())
			if err != nil {
				return err
			}
			printJSON(map[string]any{"stats": stats, "versions": versions})
			return nil
		},
	}

	var targetRows int
	compactCmd := &cobra.Command{
		Use:   "compact <uri>",
		Short: "Rewrite fragments and drop tombstones",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			dataset, _, _, err := openEngine(cmd.Context(), cfg, args[0])
			if err != nil {
				return err
			}
			if err := dataset.Compact(cmd.Context(), targetRows); err != nil {
				return err
			}
			stats, err := dataset.Stats(cmd.Context())
			if err != nil {
				return err
			}
			printJSON(stats)
			return nil
		},
	}
	compactCmd.Flags().IntVar(&targetRows, "target-rows", 4096, "rows per fragment after compaction")

	cmd.AddCommand(createCmd, infoCmd, compactCmd)
	return cmd
}

func recordCmd() *cobra.Command {
	var datasetURI string
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record CRUD against a dataset",
	}
	cmd.PersistentFlags().StringVar(&datasetURI, "dataset", "", "dataset URI")

	addCmd := &cobra.Command{
		Use:   "add <record.json>",
		Short: "Add a record from a JSON file (- for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(args[0])
			if err != nil {
				return err
			}
			rec, err := schema.DecodeRecordJSON(data)
			if err != nil {
				return err
			}
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			dataset, _, _, err := openEngine(cmd.Context(), cfg, datasetURI)
			if err != nil {
				return err
			}
			created, err := dataset.Add(cmd.Context(), rec)
			if err != nil {
				return err
			}
			printJSON(created)
			return nil
		},
	}

	var includeBlob bool
	getCmd := &cobra.Command{
		Use:   "get <uuid>",
		Short: "Fetch a record by uuid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			dataset, _, _, err := openEngine(cmd.Context(), cfg, datasetURI)
			if err != nil {
				return err
			}
			rec, err := dataset.Get(cmd.Context(), args[0], includeBlob)
			if err != nil {
				return err
			}
			printJSON(rec)
			return nil
		},
	}
	getCmd.Flags().BoolVar(&includeBlob, "include-blob", false, "also fetch the binary payload")

	updateCmd := &cobra.Command{
		Use:   "update <uuid> <record.json>",
		Short: "Replace a record, preserving its uuid",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(args[1])
			if err != nil {
				return err
			}
			rec, err := schema.DecodeRecordJSON(data)
			if err != nil {
				return err
			}
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			dataset, _, _, err := openEngine(cmd.Context(), cfg, datasetURI)
			if err != nil {
				return err
			}
			updated, err := dataset.UpdateRecord(cmd.Context(), args[0], rec)
			if err != nil {
				return err
			}
			printJSON(updated)
			return nil
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <uuid>",
		Short: "Delete a record (no-op when absent)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			dataset, _, _, err := openEngine(cmd.Context(), cfg, datasetURI)
			if err != nil {
				return err
			}
			if err := dataset.DeleteRecord(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println("Deleted", args[0])
			return nil
		},
	}

	cmd.AddCommand(addCmd, getCmd, updateCmd, deleteCmd)
	return cmd
}

func searchCmd() *cobra.Command {
	var datasetURI, filter, collectionID string
	var limit int
	var autoIndex bool
	cmd := &cobra.Command{
		Use:       "search <text|vector|hybrid> <query>",
		Short:     "Search a dataset",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"text", "vector", "hybrid"},
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := models.SearchMode(args[0])
			if !mode.IsValid() {
				return fmt.Errorf("unknown search mode %q (text, vector, hybrid)", args[0])
			}
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			_, search, _, err := openEngine(cmd.Context(), cfg, datasetURI)
			if err != nil {
				return err
			}
			req := models.SearchRequest{
				Mode:         mode,
				Limit:        limit,
				Filter:       filter,
				CollectionID: collectionID,
				AutoIndex:    autoIndex,
			}
			if mode == models.SearchModeVector && strings.HasPrefix(args[1], "[") {
				if err := json.Unmarshal([]byte(args[1]), &req.Vector); err != nil {
					return fmt.Errorf("invalid query vector: %w", err)
				}
			} else {
				req.Query = args[1]
			}
			result, err := search.Search(cmd.Context(), req)
			if err != nil {
				return err
			}
			printJSON(result)
			return nil
		},
	}
	cmd.Flags().StringVar(&datasetURI, "dataset", "", "dataset URI")
	cmd.Flags().StringVar(&filter, "filter", "", "filter expression")
	cmd.Flags().StringVar(&collectionID, "collection", "", "restrict to a collection header uuid")
	cmd.Flags().IntVar(&limit, "limit", 10, "max results")
	cmd.Flags().BoolVar(&autoIndex, "auto-index", true, "create a missing FTS index on first use")
	return cmd
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return os.ReadFile("/dev/stdin")
	}
	return os.ReadFile(path)
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Printf("encode output: %v", err)
		return
	}
	fmt.Println(string(data))
}
