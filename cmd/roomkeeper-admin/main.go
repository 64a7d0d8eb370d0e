// roomkeeper-admin inspects and repairs the snapshot store while the bot is
// not running. It opens the store directly, so the instance lock applies.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/disgoorg/snowflake/v2"
	"github.com/spf13/cobra"

	"github.com/hiyorigaoka/roomkeeper/config"
	"github.com/hiyorigaoka/roomkeeper/persistence"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "roomkeeper-admin",
		Short:         "inspect and repair the roomkeeper snapshot store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file or directory")

	roomsCmd := &cobra.Command{Use: "rooms", Short: "room snapshots"}
	roomsCmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "list all room snapshots",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withPersister(func(p persistence.Persister) error {
					rooms, err := p.GetRooms()
					if err != nil {
						return err
					}
					return printJSON(rooms)
				})
			},
		},
		&cobra.Command{
			Use:   "show <room-id>",
			Short: "show one room snapshot",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := snowflake.Parse(args[0])
				if err != nil {
					return err
				}
				return withPersister(func(p persistence.Persister) error {
					room, err := p.GetRoom(id)
					if err != nil {
						return err
					}
					return printJSON(room)
				})
			},
		},
		&cobra.Command{
			Use:   "delete <room-id>",
			Short: "delete one room snapshot (the channels themselves stay)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := snowflake.Parse(args[0])
				if err != nil {
					return err
				}
				return withPersister(func(p persistence.Persister) error {
					return p.DeleteRoom(id)
				})
			},
		},
	)

	gamesCmd := &cobra.Command{Use: "games", Short: "registered games"}
	gamesCmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "list all registered games",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withPersister(func(p persistence.Persister) error {
					games, err := p.GetGames()
					if err != nil {
						return err
					}
					return printJSON(games)
				})
			},
		},
		&cobra.Command{
			Use:   "delete <role-id>",
			Short: "delete one registered game",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := snowflake.Parse(args[0])
				if err != nil {
					return err
				}
				return withPersister(func(p persistence.Persister) error {
					return p.DeleteGame(id)
				})
			},
		},
	)

	rootCmd.AddCommand(roomsCmd, gamesCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func withPersister(fn func(persistence.Persister) error) error {
	cfg, err := config.ReadConfiguration(configPath, config.GetFlagSet())
	if err != nil {
		return err
	}
	if cfg.PersistenceConfig.LockPath != "" {
		lock, err := persistence.AcquireLock(cfg.PersistenceConfig.LockPath)
		if err != nil {
			return err
		}
		defer lock.Unlock() //nolint
	}
	p, err := persistence.NewPersister(cfg)
	if err != nil {
		return err
	}
	defer p.Close()
	return fn(p)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
