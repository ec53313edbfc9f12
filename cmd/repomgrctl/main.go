package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:   "repomgrctl",
	Short: "repomgrctl talks to a running repomgrd over its HTTP API",
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "list build actions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getAndPrint(serverURL + "/api/v0/build-actions")
	},
}

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "show one build action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getAndPrint(serverURL + "/api/v0/build-actions/" + args[0])
	},
}

var abortCmd = &cobra.Command{
	Use:   "abort <id>",
	Short: "abort a running build action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := http.Post(serverURL+"/api/v0/build-actions/"+args[0]+"/abort", "application/json", nil)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("abort failed: %s: %s", resp.Status, string(body))
		}
		fmt.Println("aborted")
		return nil
	},
}

var createCmd = &cobra.Command{
	Use:   "create <type>",
	Short: "create a new build action of the given type, e.g. ConductBuild",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags, _ := cmd.Flags().GetStringToString("setting")
		body := map[string]interface{}{
			"type":     args[0],
			"settings": flags,
		}
		if taskName, _ := cmd.Flags().GetString("name"); taskName != "" {
			body["taskName"] = taskName
		}
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		resp, err := http.Post(serverURL+"/api/v0/build-actions", "application/json", strings.NewReader(string(buf)))
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		return printJSON(resp.Body)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "base URL of the repomgrd HTTP API")
	createCmd.Flags().StringToString("setting", nil, "settings key=value pairs for the created action, repeatable")
	createCmd.Flags().String("name", "", "human-readable task name for the created action")
	rootCmd.AddCommand(listCmd, getCmd, abortCmd, createCmd)
}

func getAndPrint(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printJSON(resp.Body)
}

func printJSON(r io.Reader) error {
	var v interface{}
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
