package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/asaidimu/go-loom/core/schema"
	"github.com/asaidimu/go-loom/core/service"
	"github.com/asaidimu/go-loom/core/session"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newInitCmd(v *viper.Viper, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init [schema-file...]",
		Short: "Create the tables of the given schemas, or of those listed under \"schemas\"",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(v, opts)
			if err != nil {
				return err
			}
			defer a.close()

			p, err := a.store()
			if err != nil {
				return err
			}
			paths := args
			if len(paths) == 0 {
				paths = stringList(a.cfg, "schemas")
			}
			if len(paths) == 0 {
				return fmt.Errorf("no schema files given")
			}

			out := cmd.OutOrStdout()
			for _, path := range paths {
				sc, err := schema.LoadFile(path)
				if err != nil {
					return err
				}
				if slices.Contains(p.Entities(), sc.Name) {
					a.logger.Info("Schema already registered", zap.String("entity", sc.Name))
					fmt.Fprintf(out, "%s already registered\n", sc.Name)
					continue
				}
				if _, err := p.Register(cmd.Context(), sc); err != nil {
					return err
				}
				fmt.Fprintf(out, "registered %s\n", sc.Name)
			}
			return nil
		},
	}
}

func newSaveCmd(v *viper.Viper, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "save <entity> <documents.json>",
		Short: "Insert a JSON document, or an array of them",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("reading documents: %w", err)
			}
			records, err := decodeDocuments(data)
			if err != nil {
				return err
			}

			a, err := newApp(v, opts)
			if err != nil {
				return err
			}
			defer a.close()
			p, err := a.store()
			if err != nil {
				return err
			}
			n, err := p.Save(cmd.Context(), args[0], records...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %d %s document(s)\n", n, args[0])
			return nil
		},
	}
}

func decodeDocuments(data []byte) ([]any, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var docs []schema.Document
		if err := json.Unmarshal(data, &docs); err != nil {
			return nil, fmt.Errorf("decoding documents: %w", err)
		}
		records := make([]any, len(docs))
		for i, doc := range docs {
			records[i] = map[string]any(doc)
		}
		return records, nil
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	return []any{doc}, nil
}

func newLoadCmd(v *viper.Viper, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "load <entity> <id>...",
		Short: "Load entities by identifier and print them as JSON",
		Long: `Load entities by identifier and print them as JSON.

Identifiers that parse as integers are loaded as integers. A comma separated
identifier is a composite key, listed in identifier column order.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(v, opts)
			if err != nil {
				return err
			}
			defer a.close()

			catalog, err := service.Get[Catalog](a.registry)
			if err != nil {
				return err
			}
			l, err := catalog.Loader(args[0])
			if err != nil {
				return err
			}
			ds, err := a.dataSource()
			if err != nil {
				return err
			}

			ids := args[1:]
			results := make([][]any, len(ids))
			g, ctx := errgroup.WithContext(cmd.Context())
			limit, ok := a.cfg.Int("loader.parallelism")
			if !ok || limit < 1 {
				limit = 1
			}
			g.SetLimit(limit)
			for i, raw := range ids {
				g.Go(func() error {
					loaded, err := l.Load(ctx, ds.DB, session.New(a.logger.Named("session")), parseID(raw))
					if err != nil {
						return fmt.Errorf("loading %s %s: %w", args[0], raw, err)
					}
					results[i] = loaded
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			entities := make([]any, 0, len(ids))
			for _, loaded := range results {
				entities = append(entities, loaded...)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(entities)
		},
	}
}

// parseID turns a command line identifier into a loader identifier.
func parseID(raw string) any {
	if strings.Contains(raw, ",") {
		parts := strings.Split(raw, ",")
		key := make([]any, len(parts))
		for i, part := range parts {
			key[i] = parseID(strings.TrimSpace(part))
		}
		return key
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	return raw
}

func newSQLCmd(v *viper.Viper, opts *rootOptions) *cobra.Command {
	var batch int
	c := &cobra.Command{
		Use:   "sql <entity>",
		Short: "Print the statement that loads an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(v, opts)
			if err != nil {
				return err
			}
			defer a.close()

			catalog, err := service.Get[Catalog](a.registry)
			if err != nil {
				return err
			}
			l, err := catalog.Loader(args[0])
			if err != nil {
				return err
			}
			sql, err := l.SQL(batch)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sql)
			return nil
		},
	}
	c.Flags().IntVar(&batch, "batch", 1, "number of identifiers the statement loads")
	return c
}
