package cli

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/avwx-rest/account-backend/internal/account/domain"
	"github.com/spf13/cobra"
)

var addonCmd = &cobra.Command{
	Use:   "addon",
	Short: "Manage the addon catalog",
}

var addonListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all addons",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireContainer()
		if err != nil {
			return err
		}

		addons, err := c.CatalogRepo.AllAddons(cmd.Context())
		if err != nil {
			return fmt.Errorf("loading addons: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tPRODUCT\tMETERED\tPRICES")
		for _, a := range addons {
			keys := make([]string, 0, len(a.PriceIDs))
			for plan := range a.PriceIDs {
				keys = append(keys, plan)
			}
			sort.Strings(keys)
			prices := make([]string, 0, len(keys))
			for _, plan := range keys {
				prices = append(prices, plan+"="+a.PriceIDs[plan])
			}
			fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", a.Key, a.ProductID, a.Metered, strings.Join(prices, ","))
		}
		return w.Flush()
	},
}

var addonUpsertFlags struct {
	productID string
	prices    []string
	metered   bool
}

var addonUpsertCmd = &cobra.Command{
	Use:   "upsert KEY",
	Short: "Create or update an addon",
	Long: `Create or update an addon. Prices are given per plan tier:

  accountctl addon upsert overage --product prod_123 --metered \
      --price pro=price_abc --price enterprise=price_def`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireContainer()
		if err != nil {
			return err
		}

		priceIDs := make(map[string]string, len(addonUpsertFlags.prices))
		for _, pair := range addonUpsertFlags.prices {
			plan, price, found := strings.Cut(pair, "=")
			if !found || plan == "" || price == "" {
				return fmt.Errorf("invalid --price %q, expected PLAN=PRICE_ID", pair)
			}
			priceIDs[plan] = price
		}
		if len(priceIDs) == 0 {
			return fmt.Errorf("at least one --price is required")
		}

		addon := domain.Addon{
			Key:       args[0],
			ProductID: addonUpsertFlags.productID,
			PriceIDs:  priceIDs,
			Metered:   addonUpsertFlags.metered,
		}

		if err := c.CatalogAdmin.UpsertAddon(cmd.Context(), addon); err != nil {
			return fmt.Errorf("upserting addon: %w", err)
		}
		fmt.Printf("addon %q saved\n", addon.Key)
		return nil
	},
}

func init() {
	addonUpsertCmd.Flags().StringVar(&addonUpsertFlags.productID, "product", "", "billing product id")
	addonUpsertCmd.Flags().StringSliceVar(&addonUpsertFlags.prices, "price", nil, "plan=price_id pair, repeatable")
	addonUpsertCmd.Flags().BoolVar(&addonUpsertFlags.metered, "metered", false, "metered billing")

	addonCmd.AddCommand(addonListCmd)
	addonCmd.AddCommand(addonUpsertCmd)
	rootCmd.AddCommand(addonCmd)
}
