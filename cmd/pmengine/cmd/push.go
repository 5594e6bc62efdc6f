package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/solatis/pmengine/internal/types"
)

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push a rule set file (YAML or JSON) to a running pmengine",
	RunE:  runPush,
}

func init() {
	rootCmd.AddCommand(pushCmd)
	pushCmd.Flags().StringP("file", "f", "", "rule set file")
	pushCmd.Flags().String("server", "http://localhost:8181", "pmengine REST API base URL")
	pushCmd.Flags().Duration("timeout", 30*time.Second, "request timeout")
	_ = pushCmd.MarkFlagRequired("file")
}

func runPush(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")
	base, _ := cmd.Flags().GetString("server")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	rs, err := types.LoadRuleSetFile(file)
	if err != nil {
		return err
	}
	body, err := json.Marshal(rs)
	if err != nil {
		return fmt.Errorf("failed to encode rule set: %w", err)
	}

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost,
		strings.TrimRight(base, "/")+"/policies", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := (&http.Client{Timeout: timeout}).Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", base, err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, out, "", "  ") == nil {
		out = pretty.Bytes()
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("push not fully accepted (status %d)", resp.StatusCode)
	}
	return nil
}
