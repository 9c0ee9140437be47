package cmd

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Read and write cross-invocation key/value state",
}

var stateGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Print the value stored under a key",
	Long: `Print the value stored under a key as JSON.

With --required, a missing key is an error whose message includes the
remediation given by --hint, so a calling agent knows exactly which command
to run first.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		required, _ := cmd.Flags().GetBool("required")
		hint, _ := cmd.Flags().GetString("hint")

		a, err := newApp()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if required {
			v, err := a.store.GetRequired(ctx, key, hint)
			if err != nil {
				return err
			}
			return printJSON(cmd, v)
		}

		v, ok, err := a.store.Get(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			cmd.PrintErrf("state key %q is not set\n", key)
			return nil
		}
		return printJSON(cmd, v)
	},
}

var stateSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Store a value under a key",
	Long: `Store a value under a key.

The value is parsed as JSON when possible (numbers, booleans, null, arrays,
objects) and stored as a plain string otherwise. Use --json to require JSON
and fail on anything that does not parse.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, raw := args[0], args[1]
		strict, _ := cmd.Flags().GetBool("json")

		value, err := parseValue(raw, strict)
		if err != nil {
			return err
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		if err := a.store.Set(cmd.Context(), key, value); err != nil {
			return err
		}
		cmd.Printf("✓ %s set\n", key)
		return nil
	},
}

var stateDeleteCmd = &cobra.Command{
	Use:   "delete [key]",
	Short: "Remove a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		if err := a.store.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		cmd.Printf("✓ %s deleted\n", args[0])
		return nil
	},
}

var stateClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all keys, including any active workflow",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		if err := a.store.Clear(cmd.Context()); err != nil {
			return err
		}
		cmd.Println("✓ state cleared")
		return nil
	},
}

var stateShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the full state document",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		doc, err := a.store.Load(cmd.Context())
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(doc))
		for k := range doc {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b, err := json.Marshal(doc[k])
			if err != nil {
				return err
			}
			cmd.Printf("%s = %s\n", k, b)
		}
		return nil
	},
}

func parseValue(raw string, strict bool) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		if strict {
			return nil, fmt.Errorf("value is not valid JSON: %w", err)
		}
		return raw, nil
	}
	return v, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	cmd.Println(string(b))
	return nil
}

func init() {
	stateGetCmd.Flags().Bool("required", false, "Fail if the key is not set")
	stateGetCmd.Flags().String("hint", "", "Command that sets this key, echoed on a required miss")
	stateSetCmd.Flags().Bool("json", false, "Require the value to be valid JSON")

	stateCmd.AddCommand(stateGetCmd, stateSetCmd, stateDeleteCmd, stateClearCmd, stateShowCmd)
	rootCmd.AddCommand(stateCmd)
}
