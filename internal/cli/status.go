package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/blinkauth/internal/app"
	"github.com/aussiebroadwan/blinkauth/pkg/blinksdk"
	"github.com/aussiebroadwan/blinkauth/pkg/cryptox"
)

type statusReport struct {
	Account      string        `json:"account"`
	LoggedIn     bool          `json:"logged_in"`
	NeedsRefresh bool          `json:"needs_refresh"`
	ExpiresAt    *time.Time    `json:"expires_at,omitempty"`
	AccountID    string        `json:"account_id,omitempty"`
	RegionID     string        `json:"region_id,omitempty"`
	Hostname     string        `json:"hostname,omitempty"`
	HardwareID   string        `json:"hardware_id,omitempty"`
	AccessFP     string        `json:"access_fp,omitempty"`
	Subject      string        `json:"subject,omitempty"`
	Issuer       string        `json:"issuer,omitempty"`
	Events       []statusEvent `json:"events,omitempty"`
}

type statusEvent struct {
	Kind      string    `json:"kind"`
	AccessFP  string    `json:"access_fp,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func newStatusCommand(g *globals) *cobra.Command {
	var (
		asJSON bool
		events int
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the stored session without contacting Blink",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withApp(cmd, func(a *app.Application) error {
				report, err := buildStatus(cmd, a, events)
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(report)
				}
				return printStatus(cmd.OutOrStdout(), report)
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	cmd.Flags().IntVar(&events, "events", 5, "number of recent credential events to show")
	return cmd
}

func buildStatus(cmd *cobra.Command, a *app.Application, limit int) (*statusReport, error) {
	session := a.Session()
	creds := session.Credentials()

	report := &statusReport{
		Account:      a.Config().Account,
		LoggedIn:     session.HasValidToken(),
		NeedsRefresh: session.NeedsRefresh(),
		AccountID:    creds.AccountID,
		RegionID:     creds.RegionID,
		Hostname:     creds.Hostname,
		HardwareID:   creds.HardwareID,
		AccessFP:     cryptox.LogFingerprint(creds.AccessToken),
	}
	if exp := creds.ExpiresAt(); !exp.IsZero() {
		report.ExpiresAt = &exp
	}
	if claims, err := blinksdk.InspectAccessToken(creds.AccessToken); err == nil {
		report.Subject = claims.Subject
		report.Issuer = claims.Issuer
	}

	if limit > 0 {
		evs, err := a.Store().Events().ListEvents(cmd.Context(), report.Account, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to list events: %w", err)
		}
		for _, e := range evs {
			report.Events = append(report.Events, statusEvent{
				Kind:      string(e.Kind),
				AccessFP:  e.AccessFP,
				CreatedAt: e.CreatedAt,
			})
		}
	}
	return report, nil
}

func printStatus(w io.Writer, r *statusReport) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "account\t%s\n", r.Account)
	fmt.Fprintf(tw, "logged in\t%t\n", r.LoggedIn)
	fmt.Fprintf(tw, "needs refresh\t%t\n", r.NeedsRefresh)
	if r.ExpiresAt != nil {
		fmt.Fprintf(tw, "expires\t%s\n", r.ExpiresAt.Local().Format(time.RFC3339))
	}
	fmt.Fprintf(tw, "account id\t%s\n", orUnknown(r.AccountID))
	fmt.Fprintf(tw, "region\t%s\n", orUnknown(r.RegionID))
	fmt.Fprintf(tw, "hardware id\t%s\n", orUnknown(r.HardwareID))
	if r.AccessFP != "" {
		fmt.Fprintf(tw, "token\t%s\n", r.AccessFP)
	}
	if r.Subject != "" {
		fmt.Fprintf(tw, "subject\t%s\n", r.Subject)
	}
	for _, e := range r.Events {
		fmt.Fprintf(tw, "event\t%s %s %s\n", e.CreatedAt.Local().Format(time.RFC3339), e.Kind, e.AccessFP)
	}
	return tw.Flush()
}
