package commands

import (
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var matrixCmd = &cobra.Command{
	Use:   "matrix",
	Short: "Show the platform/program compatibility matrix",
	Long: `Show which programs the registry declares runnable on which
platforms. Rows are programs, columns are platforms; the job matrix for
a run is the checked cells crossed with the selected fixtures.`,
	RunE: runMatrix,
}

func init() {
	rootCmd.AddCommand(matrixCmd)
}

func runMatrix(cmd *cobra.Command, args []string) error {
	reg, err := loadRegistry()
	if err != nil {
		return err
	}

	header := []string{"PROGRAM"}
	for _, platform := range reg.Platforms {
		header = append(header, platform.Name)
	}

	table := tablewriter.NewTable(os.Stdout)
	table.Header(header)
	for _, program := range reg.Programs {
		compat := make(map[string]bool, len(program.PlatformCompat))
		for _, name := range program.PlatformCompat {
			compat[name] = true
		}
		row := []string{program.Name}
		for _, platform := range reg.Platforms {
			if compat[platform.Name] {
				row = append(row, "✓")
			} else {
				row = append(row, "")
			}
		}
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}
