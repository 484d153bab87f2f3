package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"pdsworker/internal/bridge"
	"pdsworker/internal/config"
	"pdsworker/internal/lookup"
	"pdsworker/internal/templates"
)

var (
	templatesDir    string
	templatesFields []string
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Inspect PDS request templates",
	Long:  `List the request templates the worker would load, or render one for a sample item.`,
}

var templatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List loaded templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := templates.Load(templatesDir)
		if err != nil {
			return err
		}

		cmd.Printf("%d template(s) in %s\n", store.Len(), store.Dir())
		for _, name := range store.Names() {
			cmd.Printf("  - %s\n", name)
		}
		return nil
	},
}

var templatesRenderCmd = &cobra.Command{
	Use:   "render <message-type>",
	Short: "Render a template for a sample item",
	Long: `Render a template with fields given as --field key=value. messageId and
creationTime are filled in the same way as for a live trace when not given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := templates.Load(templatesDir)
		if err != nil {
			return err
		}

		item, err := parseFields(templatesFields)
		if err != nil {
			return err
		}

		rendered, err := store.Render(args[0], lookup.TraceFields(item, time.Now()))
		if err != nil {
			return fmt.Errorf("failed to render %s: %w", args[0], err)
		}

		cmd.Println(rendered.Body)
		return nil
	},
}

func parseFields(pairs []string) (bridge.QueueItem, error) {
	item := make(bridge.QueueItem, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid field %q, expected key=value", pair)
		}
		item[key] = value
	}
	return item, nil
}

func init() {
	templatesCmd.PersistentFlags().StringVar(&templatesDir, "dir", config.DefaultTemplateDir, "Template directory")
	templatesRenderCmd.Flags().StringArrayVarP(&templatesFields, "field", "f", nil, "Item field as key=value (repeatable)")

	templatesCmd.AddCommand(templatesListCmd)
	templatesCmd.AddCommand(templatesRenderCmd)
}
