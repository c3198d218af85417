package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/blinkauth/internal/app"
)

func newGetCommand(g *globals) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "get <path>",
		Short: "GET a REST path on the account's regional host",
		Example: `  blinkauth get /api/v3/accounts/12345/homescreen
  blinkauth get /media/production/account/1/network/2/camera/3/thumb.jpg -o thumb.jpg`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(cmd, func(a *app.Application) error {
				target, err := a.Session().URL(args[0])
				if err != nil {
					return err
				}

				resp, err := a.Session().Get(cmd.Context(), target, nil)
				if err != nil {
					return err
				}
				if resp.Status >= 400 {
					return fmt.Errorf("GET %s: status %d: %s", args[0], resp.Status, truncate(resp.Body, 200))
				}

				if output != "" {
					return os.WriteFile(output, resp.Body, 0o644)
				}
				_, err = cmd.OutOrStdout().Write(resp.Body)
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write the body to a file instead of stdout")
	return cmd
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
