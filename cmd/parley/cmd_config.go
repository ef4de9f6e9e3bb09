package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/parley/internal/config"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configListCmd, configGetCmd, configSetCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and edit the room agent configuration",
	Long: `Inspect and edit the configuration file.

Keys are dot-separated paths into the JSON config, for example
persona_file, room.listen_addr, llm.model, or knowledge.endpoint.
API keys are taken from the environment when set (OPENAI_API_KEY,
NEWS_API_KEY, KNOWLEDGE_API_KEY) and override the file.`,
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print every configuration key and its value",
	Args:  cobra.NoArgs,
	RunE:  runConfigList,
}

var configGetCmd = &cobra.Command{
	Use:     "get <key>",
	Short:   "Print one configuration value",
	Example: "  parley config get room.listen_addr",
	Args:    cobra.ExactArgs(1),
	RunE:    runConfigGet,
}

var configSetCmd = &cobra.Command{
	Use:     "set <key> <value>",
	Short:   "Change one configuration value",
	Example: "  parley config set persona_file /etc/parley/persona.txt",
	Args:    cobra.ExactArgs(2),
	RunE:    runConfigSet,
}

func runConfigList(cmd *cobra.Command, args []string) error {
	values, err := config.ListValues(loadConfig(), true)
	if err != nil {
		return fmt.Errorf("list config: %w", err)
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, k := range keys {
		fmt.Fprintf(w, "%s\t%v\n", k, values[k])
	}
	return w.Flush()
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	val, err := config.GetValue(cfgPath, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, val)
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]
	if err := config.SetValue(cfgPath, key, value); err != nil {
		return err
	}
	if config.IsSecretKey(key) {
		value = "***"
	}
	fmt.Fprintf(os.Stdout, "%s is now %s\n", key, value)
	return nil
}
