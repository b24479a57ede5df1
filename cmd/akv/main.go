package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "akv",
	Short: "fake-akv CLI",
	Long:  "A CLI for the fake Azure Key Vault secrets emulator.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadConfig()
		// Env var overrides are applied in newClient()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json, raw")
	rootCmd.PersistentFlags().StringVar(&outputField, "field", "", "Print only this field (use with -format=raw)")

	rootCmd.AddCommand(secretCmd())
	rootCmd.AddCommand(statusCmd())
}

// --- secret ---

func secretCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "secret", Short: "Manage secrets"}

	setCmd := &cobra.Command{
		Use:   "set <name> <value>",
		Short: "Create a new secret version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tags, _ := cmd.Flags().GetStringSlice("tag")
			contentType, _ := cmd.Flags().GetString("content-type")

			body := map[string]any{"value": args[1]}
			if len(tags) > 0 {
				tagMap := map[string]string{}
				for _, kv := range tags {
					parts := strings.SplitN(kv, "=", 2)
					if len(parts) != 2 {
						return fmt.Errorf("invalid key=value tag: %s", kv)
					}
					tagMap[parts[0]] = parts[1]
				}
				body["tags"] = tagMap
			}
			if contentType != "" {
				body["attributes"] = map[string]any{"contentType": contentType}
			}

			client := newClient()
			result, err := client.put("/secrets/"+args[0], body)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	setCmd.Flags().StringSlice("tag", nil, "Tag as key=value (repeatable)")
	setCmd.Flags().String("content-type", "", "Content type attribute")

	getCmd := &cobra.Command{
		Use:   "get <name>",
		Short: "Read the latest (or a specific) secret version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, _ := cmd.Flags().GetString("version")
			path := "/secrets/" + args[0]
			if version != "" {
				path += "/" + version
			}
			client := newClient()
			result, err := client.get(path)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	getCmd.Flags().String("version", "", "Version to read (default: latest)")

	versionsCmd := &cobra.Command{
		Use:   "versions <name>",
		Short: "List the non-deleted versions of a secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/secrets/" + args[0] + "/versions")
			if err != nil {
				printError(err.Error())
				return nil
			}
			if items, ok := result["value"].([]any); ok {
				for _, item := range items {
					if m, ok := item.(map[string]any); ok {
						fmt.Println(m["id"])
					}
				}
				return nil
			}
			printResult(result)
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all visible secrets",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/secrets")
			if err != nil {
				printError(err.Error())
				return nil
			}
			if items, ok := result["value"].([]any); ok {
				for _, item := range items {
					if m, ok := item.(map[string]any); ok {
						fmt.Println(m["id"])
					}
				}
				return nil
			}
			printResult(result)
			return nil
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Soft-delete a secret (all versions)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.delete("/secrets/" + args[0])
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	recoverCmd := &cobra.Command{
		Use:   "recover <name>",
		Short: "Recover a soft-deleted secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.post("/deletedsecrets/"+args[0]+"/recover", nil)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	showDeletedCmd := &cobra.Command{
		Use:   "show-deleted <name>",
		Short: "Show the deletion record of a secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/deletedsecrets/" + args[0])
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	cmd.AddCommand(setCmd, getCmd, versionsCmd, listCmd, deleteCmd, recoverCmd, showDeletedCmd)
	return cmd
}

// --- status ---

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show emulator status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
}
