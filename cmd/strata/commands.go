package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dshills/strata/internal/config"
	"github.com/dshills/strata/internal/config/layer"
	"github.com/dshills/strata/internal/config/loader"
	"github.com/dshills/strata/internal/config/notify"
	"github.com/dshills/strata/internal/config/profile"
	"github.com/dshills/strata/internal/config/registry"
)

func newGetCmd(a *app) *cobra.Command {
	var showScope bool
	cmd := &cobra.Command{
		Use:   "get KEY",
		Short: "Print the effective value of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if cmd.Flags().Changed("scope") {
				scope, err := scopeFlag(cmd)
				if err != nil {
					return err
				}
				v, ok := a.mgr.GetIn(scope, key)
				if !ok {
					return fmt.Errorf("%s in %s: %w", key, scope, config.ErrSettingNotFound)
				}
				return printValue(a.out, v, "json")
			}

			v, scope, ok := a.mgr.Resolve(key)
			if !ok {
				return fmt.Errorf("%s: %w", key, config.ErrSettingNotFound)
			}
			if showScope {
				fmt.Fprintf(a.out, "# %s\n", scope)
			}
			return printValue(a.out, v, "json")
		},
	}
	cmd.Flags().String("scope", "user", "read a single scope")
	cmd.Flags().BoolVar(&showScope, "show-scope", false, "print the scope supplying the value")
	return cmd
}

func newSetCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Set a key in a scope",
		Long: `Set a key in a scope. VALUE is parsed as a boolean, number, duration or
JSON array/object when possible, otherwise it is stored as a string.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := scopeFlag(cmd)
			if err != nil {
				return err
			}
			key, value := args[0], loader.ParseValue(args[1])
			if msgs := a.mgr.ValidateValue(key, value); len(msgs) > 0 {
				return fmt.Errorf("%s: %w: %s", key, config.ErrValidationFailed, strings.Join(msgs, "; "))
			}
			if err := a.mgr.Set(key, value, config.InScope(scope), config.WithSource("cli")); err != nil {
				return err
			}
			if s := a.catalog.Get(key); s != nil && s.Deprecated {
				fmt.Fprintf(a.out, "warning: %s is deprecated: %s\n", key, s.DeprecatedMessage)
			}
			if !scope.Persisted() {
				return nil
			}
			return a.save(cmd.Context())
		},
	}
	cmd.Flags().String("scope", "user", "scope to write (global, user, session, temporary)")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "delete KEY",
		Aliases: []string{"rm", "unset"},
		Short:   "Remove a key from a scope",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := scopeFlag(cmd)
			if err != nil {
				return err
			}
			if err := a.mgr.Delete(args[0], scope); err != nil {
				return err
			}
			if !scope.Persisted() {
				return nil
			}
			return a.save(cmd.Context())
		},
	}
	cmd.Flags().String("scope", "user", "scope to delete from")
	return cmd
}

func newDumpCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "dump [KEY]",
		Short: "Print the effective configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			merged := a.mgr.Merged()
			if len(args) == 0 {
				return printValue(a.out, merged, format)
			}
			v, ok := layer.GetByPath(merged, args[0])
			if !ok {
				return fmt.Errorf("%s: %w", args[0], config.ErrSettingNotFound)
			}
			return printValue(a.out, v, format)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "output format (json, yaml, toml)")
	return cmd
}

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the effective configuration against every rule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report := a.mgr.ValidateAll()
			if report.OK() {
				fmt.Fprintln(a.out, "configuration is valid")
				return nil
			}
			for _, msg := range report.Messages() {
				fmt.Fprintln(a.out, msg)
			}
			return fmt.Errorf("%w: %d problems", config.ErrValidationFailed, report.Count())
		},
	}
}

func newExportCmd(a *app) *cobra.Command {
	var withProfiles bool
	cmd := &cobra.Command{
		Use:   "export PATH",
		Short: "Write every scope to a file",
		Long:  "Write every scope to a file. The format follows the extension: .json, .yaml, .yml or .toml.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.mgr.Export(cmd.Context(), args[0], withProfiles); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "exported to %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&withProfiles, "profiles", true, "include profiles")
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	var merge bool
	cmd := &cobra.Command{
		Use:   "import PATH",
		Short: "Read an exported file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.mgr.Import(cmd.Context(), args[0], merge); err != nil {
				return err
			}
			return a.save(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&merge, "merge", false, "merge into the current values instead of replacing them")
	return cmd
}

func newBackupCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, list, restore and prune backups",
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Back up every scope and profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := a.mgr.Backup(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, id)

			keep, err := a.mgr.GetInt("persistence.backup_count")
			if err != nil || keep <= 0 {
				return nil
			}
			_, err = a.mgr.PruneBackups(keep)
			return err
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List backups, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			backups, err := a.mgr.ListBackups()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCREATED\tVERSION")
			for _, b := range backups {
				fmt.Fprintf(w, "%s\t%s\t%s\n", b.ID, b.Created.Format("2006-01-02 15:04:05"), b.Version)
			}
			return w.Flush()
		},
	}

	restore := &cobra.Command{
		Use:   "restore ID",
		Short: "Replace every scope and profile with a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.mgr.Restore(cmd.Context(), args[0]); err != nil {
				return err
			}
			return a.save(cmd.Context())
		},
	}

	var keep int
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Remove the oldest backups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			removed, err := a.mgr.PruneBackups(keep)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "removed %d backups\n", removed)
			return nil
		},
	}
	prune.Flags().IntVar(&keep, "keep", 10, "number of backups to keep")

	cmd.AddCommand(create, list, restore, prune)
	return cmd
}

func newProfileCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "profile",
		Aliases: []string{"profiles"},
		Short:   "Manage profiles",
	}

	var description string
	create := &cobra.Command{
		Use:   "create NAME",
		Short: "Capture the USER scope as a new profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.mgr.CreateProfile(args[0], description)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, id)
			return a.save(cmd.Context())
		},
	}
	create.Flags().StringVarP(&description, "description", "d", "", "profile description")

	activate := &cobra.Command{
		Use:   "activate ID|NAME",
		Short: "Replace the USER scope with a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := findProfile(a.mgr, args[0])
			if err != nil {
				return err
			}
			report, err := a.mgr.ActivateProfile(id)
			if err != nil {
				for _, msg := range report.Messages() {
					fmt.Fprintln(a.out, msg)
				}
				return err
			}
			return a.save(cmd.Context())
		},
	}

	del := &cobra.Command{
		Use:   "delete ID|NAME",
		Short: "Delete a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := findProfile(a.mgr, args[0])
			if err != nil {
				return err
			}
			if err := a.mgr.DeleteProfile(id); err != nil {
				return err
			}
			return a.save(cmd.Context())
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			active, _ := a.mgr.ActiveProfile()
			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "\tID\tNAME\tDESCRIPTION")
			for _, p := range a.mgr.ListProfiles() {
				mark := ""
				if p.ID == active {
					mark = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", mark, p.ID, p.Name, p.Description)
			}
			return w.Flush()
		},
	}

	update := &cobra.Command{
		Use:   "update ID|NAME",
		Short: "Capture the current USER scope into an existing profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := findProfile(a.mgr, args[0])
			if err != nil {
				return err
			}
			if err := a.mgr.UpdateProfile(id); err != nil {
				return err
			}
			return a.save(cmd.Context())
		},
	}

	cmd.AddCommand(create, activate, update, del, list)
	return cmd
}

// findProfile resolves a profile id or name.
func findProfile(m *config.Manager, ref string) (string, error) {
	if _, err := m.GetProfile(ref); err == nil {
		return ref, nil
	}
	if p, ok := m.FindProfile(ref); ok {
		return p.ID, nil
	}
	return "", &profile.Error{Op: "find", ID: ref, Err: profile.ErrNotFound}
}

func newSettingsCmd(a *app) *cobra.Command {
	var tag string
	cmd := &cobra.Command{
		Use:   "settings [QUERY]",
		Short: "Describe the built-in settings",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var settings []*registry.Setting
			switch {
			case tag != "":
				settings = a.catalog.ByTag(tag)
			case len(args) == 1:
				settings = a.catalog.Search(args[0])
			default:
				settings = a.catalog.All()
			}

			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tTYPE\tDEFAULT\tDESCRIPTION")
			for _, s := range settings {
				desc := s.Description
				if s.Deprecated {
					desc = "(deprecated) " + desc
				}
				def := ""
				if s.Default != nil {
					def = fmt.Sprint(s.Default)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Path, s.Type, def, desc)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&tag, "tag", "", "only settings with this tag")
	return cmd
}

func newPluginsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "List registered plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tKIND\tVERSION\tSTATE\tERROR")
			for _, s := range a.mgr.PluginStatuses() {
				msg := ""
				if s.Err != nil {
					msg = s.Err.Error()
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					s.Metadata.Name, s.Metadata.Kind, s.Metadata.Version, s.State, msg)
			}
			return w.Flush()
		},
	}
}

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print changes as the configuration file is edited",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a.mgr.AddChangeListener(func(c notify.Change) {
				if c.Type == notify.ChangeReload {
					fmt.Fprintf(a.out, "reloaded %s\n", c.Source)
					return
				}
				fmt.Fprintf(a.out, "%s %s [%s]: %v -> %v\n", c.Type, c.Key, c.Scope, c.OldValue, c.NewValue)
			})
			if err := a.mgr.Watch(ctx, a.configPath); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "watching %s\n", a.configPath)
			<-ctx.Done()
			return nil
		},
	}
}

func newInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print a summary of the configuration engine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := a.mgr.Info()
			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "config\t%s\n", a.configPath)
			fmt.Fprintf(w, "version\t%s\n", info.Version)
			for _, scope := range layer.Scopes {
				fmt.Fprintf(w, "%s keys\t%d\n", scope, info.ScopeSizes[scope])
			}
			fmt.Fprintf(w, "profiles\t%d\n", info.Profiles)
			if info.ActiveProfile != "" {
				fmt.Fprintf(w, "active profile\t%s\n", info.ActiveProfile)
			}
			fmt.Fprintf(w, "plugins\t%d (%d failed)\n", info.Plugins, info.FailedPlugins)
			fmt.Fprintf(w, "schemas\t%d (%d rules)\n", info.Schemas, info.Rules)
			return w.Flush()
		},
	}
}

// printValue writes v in format. Scalars are printed bare.
func printValue(w io.Writer, v any, format string) error {
	switch val := v.(type) {
	case string:
		_, err := fmt.Fprintln(w, val)
		return err
	case map[string]any:
		codec, err := loader.ForName(format)
		if err != nil {
			return err
		}
		data, err := codec.Encode(val)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		if err == nil && (len(data) == 0 || data[len(data)-1] != '\n') {
			_, err = fmt.Fprintln(w)
		}
		return err
	}

	if format != "json" {
		if _, err := loader.ForName(format); err != nil {
			return err
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
