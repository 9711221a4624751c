package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/grantly-io/grantly/internal/resource"
)

var resourceMatches []string

var resourceCmd = &cobra.Command{
	Use:   "resource PATTERN",
	Short: "Parse a resource pattern and match resources against it",
	Long: `The resource command parses a resource matching pattern such as
"kafka-cluster:prod-*,Topic:orders-*" and prints its canonical form.
With --match, each CLUSTER:TYPE:NAME triple is matched against the pattern.`,
	Example: `  grantly resource "Topic:orders-*"
  grantly resource "kafka-cluster:prod-*,Topic:orders-*" \
      --match "prod-east:TOPIC:orders-42" --match "dev:TOPIC:orders-42"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := resource.Parse(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("canonical: %s\n", spec)

		if len(resourceMatches) == 0 {
			return nil
		}

		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Cluster", "Type", "Name", "Match"})
		for _, m := range resourceMatches {
			parts := strings.SplitN(m, ":", 3)
			if len(parts) != 3 {
				return fmt.Errorf("invalid --match value %q (expected CLUSTER:TYPE:NAME)", m)
			}
			verdict := red("no")
			if spec.Match(parts[0], parts[1], parts[2]) {
				verdict = green("yes")
			}
			t.AppendRow(table.Row{parts[0], parts[1], parts[2], verdict})
		}
		t.Render()
		return nil
	},
}

func init() {
	resourceCmd.Flags().StringArrayVar(&resourceMatches, "match", nil,
		"CLUSTER:TYPE:NAME triple to match against the pattern (repeatable)")
	rootCmd.AddCommand(resourceCmd)
}
