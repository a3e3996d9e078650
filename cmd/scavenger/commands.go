package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/Unwrenchable/atomicfizzcaps-live/internal/client"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/domain"
	"github.com/Unwrenchable/atomicfizzcaps-live/internal/replica"
	"github.com/spf13/cobra"
)

func newKeygenCommand() *cobra.Command {
	var out string
	var force bool

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create a new wallet key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				out = keyPath
			}
			if _, err := os.Stat(out); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", out)
			}
			key, err := client.GenerateKey()
			if err != nil {
				return err
			}
			if err := client.SaveKey(out, key); err != nil {
				return err
			}
			c := client.New(serverURL, key)
			fmt.Println("✓ Wallet created")
			fmt.Printf("  Address:  %s\n", c.Wallet())
			fmt.Printf("  Key file: %s\n", out)
			return nil
		},
	}

	cmd.Flags().StringVar(&out, "out", "", "Where to write the key (defaults to --key)")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing key file")
	return cmd
}

func newLocationsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "locations",
		Short: "List claimable locations",
		RunE: func(cmd *cobra.Command, args []string) error {
			locs, err := newReadClient().Locations(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "LOCATION\tRARITY\tLEVEL\tLAT\tLNG")
			for _, l := range locs {
				fmt.Fprintf(w, "%s\t%s\t%d\t%.4f\t%.4f\n", l.ID, l.Rarity, l.Level, l.Lat, l.Lng)
			}
			return w.Flush()
		},
	}
}

func newClaimCommand() *cobra.Command {
	var (
		lat, lng float64
		streak   int
	)

	cmd := &cobra.Command{
		Use:   "claim <location>",
		Short: "Claim loot at a location you are standing at",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("lat") || !cmd.Flags().Changed("lng") {
				return fmt.Errorf("--lat and --lng are required")
			}
			c, err := newClient()
			if err != nil {
				return err
			}
			res, err := c.Claim(cmd.Context(), args[0], lat, lng, streak)
			if err != nil {
				return err
			}

			fmt.Println("✓ " + res.Message)
			fmt.Printf("  Caps found:  %d (total %d)\n", res.CapsFound, res.TotalCaps)
			fmt.Printf("  XP gained:   %d (level %d", res.XPGained, res.Level)
			if res.LevelsGained > 0 {
				fmt.Printf(", +%d", res.LevelsGained)
			}
			fmt.Println(")")
			fmt.Printf("  Rads:        %d\n", res.Rads)
			if res.Gear != nil {
				fmt.Printf("  Gear:        %s [%s] %s\n", res.Gear.Name, res.Gear.Rarity, res.Gear.ID)
			}
			if res.TransferReceipt != nil {
				fmt.Printf("  Transfer:    %s\n", res.TransferReceipt.Signature)
			}
			if !res.Persisted {
				fmt.Println("  ! Progress was not saved yet; claim the same location again to sync it.")
			}
			return nil
		},
	}

	cmd.Flags().Float64Var(&lat, "lat", 0, "Your latitude (required)")
	cmd.Flags().Float64Var(&lng, "lng", 0, "Your longitude (required)")
	cmd.Flags().IntVar(&streak, "streak", 0, "Current daily streak")
	return cmd
}

func newPlayerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "player [wallet]",
		Short: "Show a player record (defaults to your own)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newReadClient()
			var wallet string
			if len(args) == 1 {
				wallet = args[0]
			} else {
				own, err := newClient()
				if err != nil {
					return err
				}
				wallet = own.Wallet()
			}
			p, err := c.GetPlayer(cmd.Context(), wallet)
			if err != nil {
				return err
			}
			printPlayer(os.Stdout, p.PlayerRecord)
			return nil
		},
	}
}

func newEquipCommand() *cobra.Command {
	var off bool

	cmd := &cobra.Command{
		Use:   "equip <gear-id>",
		Short: "Equip (or with --off, unequip) a gear instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			p, err := c.Equip(cmd.Context(), args[0], !off)
			if err != nil {
				return err
			}
			printPlayer(os.Stdout, p.PlayerRecord)
			return nil
		},
	}

	cmd.Flags().BoolVar(&off, "off", false, "Unequip instead")
	return cmd
}

func newWatchCommand() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow your record live and run the radiation clock",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
			rt := replica.New(c.Wallet(), c, logger, replica.WithInterval(interval))
			if err := rt.Refresh(ctx); err != nil {
				return err
			}
			printStats(rt)
			go rt.Run(ctx)

			// the feed drops on server restarts; reconnect and resync
			for {
				err := c.Watch(ctx, c.Wallet(), nil, func(rec *domain.PlayerRecord) {
					if rt.Apply(rec) {
						printStats(rt)
					}
				})
				if ctx.Err() != nil {
					return nil
				}
				fmt.Fprintf(os.Stderr, "feed lost: %v; reconnecting\n", err)
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(3 * time.Second):
				}
				if err := rt.Refresh(ctx); err == nil {
					printStats(rt)
				}
			}
		},
	}

	cmd.Flags().DurationVar(&interval, "tick", replica.TickInterval, "Radiation tick interval")
	return cmd
}

func printStats(rt *replica.Runtime) {
	s, err := rt.Stats()
	if err != nil {
		return
	}
	status := ""
	if s.Dead {
		status = "  [DEAD]"
	}
	fmt.Printf("[%s] lvl %d  hp %d/%d  rads %d (eff %d)  caps %d  xp %d/%d%s\n",
		time.Now().Format("15:04:05"),
		s.Level, s.HP, s.MaxHP, s.Rads, s.EffectiveRads, s.Caps, s.XP, s.XPToNext, status,
	)
}

func printPlayer(out io.Writer, p *domain.PlayerRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Wallet:\t%s\n", p.Wallet)
	fmt.Fprintf(w, "Level:\t%d (xp %d/%d)\n", p.Level, p.XP, p.XPToNext)
	fmt.Fprintf(w, "HP:\t%d/%d\n", p.HP, p.MaxHP)
	fmt.Fprintf(w, "Rads:\t%d\n", p.Rads)
	fmt.Fprintf(w, "Caps:\t%d\n", p.Caps)
	fmt.Fprintf(w, "Claimed:\t%d locations\n", len(p.Claimed))
	w.Flush()

	if len(p.Gear) > 0 {
		fmt.Fprintln(out, "\nGear:")
		for _, g := range p.Gear {
			mark := " "
			if p.IsEquipped(g.ID) {
				mark = "*"
			}
			fmt.Fprintf(out, "  %s %s  %s [%s]", mark, g.ID, g.Name, g.Rarity)
			for _, e := range g.Effects {
				fmt.Fprintf(out, " %s+%d", e.Type, e.Value)
			}
			fmt.Fprintln(out)
		}
	}
	if len(p.Quests) > 0 {
		fmt.Fprintln(out, "\nQuests:")
		for _, q := range p.Quests {
			done := ""
			if q.Completed {
				done = " ✓"
			}
			fmt.Fprintf(out, "  %s: %d%s\n", q.ID, q.Progress, done)
		}
	}
}
