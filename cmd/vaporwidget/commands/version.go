package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  "Display the version of the vaporwidget CLI, the widget core and build information.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if wantJSON() {
				return printJSON(map[string]string{
					"version":    GetVersion(),
					"widget":     widgetVersion(),
					"commit":     GetCommit(),
					"build_date": BuildDate,
					"go":         GetGoVersion(),
				})
			}
			fmt.Println(StatusBox("vaporwidget", [][2]string{
				{"Version", GetVersion()},
				{"Widget", widgetVersion()},
				{"Commit", GetCommit()},
				{"Build Date", BuildDate},
				{"Go Version", GetGoVersion()},
				{"OS/Arch", runtime.GOOS + "/" + runtime.GOARCH},
			}))
			return nil
		},
	}
}
