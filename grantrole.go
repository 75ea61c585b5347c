package main

import (
	"context"
	"time"

	"emporium/auth"
	"emporium/config"
	"emporium/db"
	"emporium/models"

	"github.com/spf13/cobra"
)

var grantRoleCmd = &cobra.Command{
	Use:   "grant-role <email> <role>",
	Short: "Set the role of an existing account (user, seller or admin)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		store, err := db.Connect(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return err
		}
		defer store.Close(context.Background())

		svc := auth.NewService(auth.NewMongoUserRepository(store), nil, nil, cfg.FrontendURL)
		if err := svc.GrantRole(ctx, args[0], args[1]); err != nil {
			return err
		}
		if args[1] == models.RoleAdmin {
			cmd.Printf("%s is now an administrator\n", args[0])
		}
		return nil
	},
}
