package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/always-cache/httpet"
	registry "github.com/always-cache/httpet/pkg/animal-registry"
	petstore "github.com/always-cache/httpet/pkg/pet-store"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func petsCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "pets",
		Short: "Manage the pet database",
	}
	c.PersistentFlags().String("db", "", "Pet DB file name")
	c.PersistentFlags().String("images", "", "Asset root directory")

	c.AddCommand(petsListCmd(), petsSetCmd(), petsDeleteCmd(), petsSyncCmd())
	return c
}

// withPets opens the configured pet database and runs fn.
func withPets(cmd *cobra.Command, fn func(config httpet.FileConfig, pets *petstore.Store) error) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	setupLogging(config)
	filename, ok := config.DatabaseFile()
	if !ok {
		return errors.Wrap(httpet.ErrConfig, "pet database is disabled")
	}
	if filename == "" {
		return errors.Wrap(httpet.ErrConfig, "pet database is in memory")
	}
	pets, err := petstore.Open(filename)
	if err != nil {
		return err
	}
	defer pets.Close()
	return fn(config, pets)
}

func petsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pets with their status and votes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPets(cmd, func(_ httpet.FileConfig, pets *petstore.Store) error {
				list, err := pets.List(cmd.Context())
				if err != nil {
					return err
				}
				if len(list) == 0 {
					fmt.Println("(no pets found)")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tSTATUS\tVOTES\tCREATED")
				for _, pet := range list {
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", pet.Name, pet.Status, pet.Votes, pet.CreatedAt.Format("2006-01-02"))
				}
				return w.Flush()
			})
		},
	}
}

func petsSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <name> <status>",
		Short: "Create a pet or change its status (submitted, voting, enabled)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := petstore.ParseStatus(args[1])
			if err != nil {
				return err
			}
			return withPets(cmd, func(_ httpet.FileConfig, pets *petstore.Store) error {
				if err := pets.Upsert(cmd.Context(), args[0], status); err != nil {
					return err
				}
				fmt.Printf("%s is now %s\n", args[0], status)
				return nil
			})
		},
	}
}

func petsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a pet and its votes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPets(cmd, func(_ httpet.FileConfig, pets *petstore.Store) error {
				return pets.Delete(cmd.Context(), args[0])
			})
		},
	}
}

func petsSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Add asset directories missing from the database as enabled pets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPets(cmd, func(config httpet.FileConfig, pets *petstore.Store) error {
				names, err := registry.Discover(config.AssetRoot)
				if err != nil {
					return err
				}
				added, err := pets.Sync(cmd.Context(), names)
				if err != nil {
					return err
				}
				fmt.Printf("Added %d of %d pets\n", added, len(names))
				return nil
			})
		},
	}
}
