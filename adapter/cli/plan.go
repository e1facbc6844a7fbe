package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/avwx-rest/account-backend/internal/account/domain"
	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Manage the plan catalog",
}

var planListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all plans",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireContainer()
		if err != nil {
			return err
		}

		plans, err := c.CatalogRepo.AllPlans(cmd.Context())
		if err != nil {
			return fmt.Errorf("loading plans: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tNAME\tLEVEL\tPRICE\tLIMIT\tSTRIPE PRICE")
		for _, p := range plans {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n", p.Key, p.Name, p.Level, p.Price, p.Limit, p.StripeID)
		}
		return w.Flush()
	},
}

var planUpsertFlags struct {
	name     string
	level    int
	price    int
	limit    int
	stripeID string
}

var planUpsertCmd = &cobra.Command{
	Use:   "upsert KEY",
	Short: "Create or update a plan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireContainer()
		if err != nil {
			return err
		}

		plan := domain.Plan{
			Key:      args[0],
			Name:     planUpsertFlags.name,
			Level:    planUpsertFlags.level,
			Price:    planUpsertFlags.price,
			Limit:    planUpsertFlags.limit,
			StripeID: planUpsertFlags.stripeID,
		}
		if plan.Name == "" {
			return fmt.Errorf("--name is required")
		}

		if err := c.CatalogAdmin.UpsertPlan(cmd.Context(), plan); err != nil {
			return fmt.Errorf("upserting plan: %w", err)
		}
		fmt.Printf("plan %q saved\n", plan.Key)
		return nil
	},
}

func init() {
	planUpsertCmd.Flags().StringVar(&planUpsertFlags.name, "name", "", "display name")
	planUpsertCmd.Flags().IntVar(&planUpsertFlags.level, "level", 0, "tier level")
	planUpsertCmd.Flags().IntVar(&planUpsertFlags.price, "price", 0, "monthly price in cents")
	planUpsertCmd.Flags().IntVar(&planUpsertFlags.limit, "limit", 0, "daily request limit")
	planUpsertCmd.Flags().StringVar(&planUpsertFlags.stripeID, "stripe-price", "", "Stripe price id, empty for free tiers")

	planCmd.AddCommand(planListCmd)
	planCmd.AddCommand(planUpsertCmd)
	rootCmd.AddCommand(planCmd)
}
