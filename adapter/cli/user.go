package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/avwx-rest/account-backend/internal/account/domain"
	"github.com/spf13/cobra"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Inspect and manage user accounts",
}

var userShowCmd = &cobra.Command{
	Use:   "show EMAIL",
	Short: "Print a user document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireContainer()
		if err != nil {
			return err
		}

		user, err := c.UserRepo.FindByEmail(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		user.PasswordHash = ""

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(user)
	},
}

var userDisableCmd = &cobra.Command{
	Use:   "disable EMAIL",
	Short: "Disable an account, blocking API token use",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setDisabled(cmd, args[0], true) },
}

var userEnableCmd = &cobra.Command{
	Use:   "enable EMAIL",
	Short: "Re-enable a disabled account",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setDisabled(cmd, args[0], false) },
}

func setDisabled(cmd *cobra.Command, email string, disabled bool) error {
	c, err := requireContainer()
	if err != nil {
		return err
	}

	user, err := c.UserRepo.FindByEmail(cmd.Context(), email)
	if err != nil {
		return err
	}
	if user.Disabled == disabled {
		fmt.Printf("user %s unchanged\n", email)
		return nil
	}

	user.Disabled = disabled
	user.Touch()
	if err := c.UserRepo.Save(cmd.Context(), user); err != nil {
		return fmt.Errorf("saving user: %w", err)
	}

	state := "enabled"
	if disabled {
		state = "disabled"
	}
	fmt.Printf("user %s %s\n", email, state)
	return nil
}

// change-plan and grant-token write the user document directly, bypassing
// billing. They exist for support work on accounts whose remote state has
// already been handled (comped plans, manual refunds).
var changePlanCmd = &cobra.Command{
	Use:   "change-plan EMAIL PLAN_KEY",
	Short: "Set an account's plan without touching billing",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireContainer()
		if err != nil {
			return err
		}

		user, err := c.UserRepo.FindByEmail(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		plan, err := c.CatalogRepo.PlanByKey(cmd.Context(), args[1])
		if err != nil {
			return err
		}

		planCopy := *plan
		user.Plan = &planCopy
		if plan.IsFree() {
			user.StripDevTokens()
		} else if !user.HasDevToken() {
			token, err := c.TokenRegistry.Generate(cmd.Context(), domain.TokenKindDev)
			if err != nil {
				return fmt.Errorf("issuing development token: %w", err)
			}
			user.AddToken(token)
		}
		user.Touch()
		if err := c.UserRepo.Save(cmd.Context(), user); err != nil {
			return fmt.Errorf("saving user: %w", err)
		}

		fmt.Printf("user %s moved to plan %s\n", args[0], plan.Key)
		return nil
	},
}

var grantTokenDev bool

var grantTokenCmd = &cobra.Command{
	Use:   "grant-token EMAIL",
	Short: "Issue a new API token for an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireContainer()
		if err != nil {
			return err
		}

		user, err := c.UserRepo.FindByEmail(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		kind := domain.TokenKindApp
		if grantTokenDev {
			kind = domain.TokenKindDev
		}
		token, err := c.TokenRegistry.Generate(cmd.Context(), kind)
		if err != nil {
			return err
		}
		user.AddToken(token)
		user.Touch()
		if err := c.UserRepo.Save(cmd.Context(), user); err != nil {
			return fmt.Errorf("saving user: %w", err)
		}

		fmt.Printf("issued %s token %s\n", kind, token.Value)
		return nil
	},
}

func init() {
	userCmd.AddCommand(userShowCmd)
	userCmd.AddCommand(userDisableCmd)
	userCmd.AddCommand(userEnableCmd)
	rootCmd.AddCommand(userCmd)

	grantTokenCmd.Flags().BoolVar(&grantTokenDev, "dev", false, "issue a development token instead of an app token")
	rootCmd.AddCommand(changePlanCmd)
	rootCmd.AddCommand(grantTokenCmd)
}
