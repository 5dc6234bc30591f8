// Command mailvaultctl is a thin HTTP client for the mailvault service:
// connection status, disconnects, message listing and health, from the
// terminal.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type client struct {
	BaseURL   string
	APIKey    string
	OutFormat string // "json" | "text"
	HTTP      *http.Client
}

func (c *client) do(method, path string) (int, []byte, error) {
	u := strings.TrimRight(c.BaseURL, "/") + path
	req, err := http.NewRequest(method, u, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("X-Admin-API-Key", c.APIKey)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b, nil
}

func (c *client) print(status int, body []byte) {
	if c.OutFormat == "json" {
		var v any
		if json.Unmarshal(body, &v) == nil {
			p, _ := json.MarshalIndent(v, "", "  ")
			fmt.Println(string(p))
			return
		}
	}
	if len(body) > 0 {
		fmt.Println(string(body))
	} else {
		fmt.Printf("status=%d\n", status)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	var (
		baseURL = envOr("MAILVAULT_URL", "http://localhost:8080")
		apiKey  = envOr("MAILVAULT_API_KEY", "")
		out     = envOr("MAILVAULT_OUT", "text")
	)

	root := &cobra.Command{
		Use:   "mailvaultctl",
		Short: "CLI for the mailvault integration API",
	}

	root.PersistentFlags().StringVar(&baseURL, "url", baseURL, "mailvault base URL (env MAILVAULT_URL)")
	root.PersistentFlags().StringVar(&apiKey, "api-key", apiKey, "admin API key (env MAILVAULT_API_KEY)")
	root.PersistentFlags().StringVar(&out, "out", out, "output format: json|text")

	cl := &client{HTTP: &http.Client{Timeout: 30 * time.Second}}
	syncClient := func() {
		cl.BaseURL = baseURL
		cl.APIKey = apiKey
		cl.OutFormat = out
	}

	requireKey := func(*cobra.Command, []string) error {
		syncClient()
		if apiKey == "" {
			return fmt.Errorf("missing API key (flag --api-key or env MAILVAULT_API_KEY)")
		}
		return nil
	}

	// ping
	pingCmd := &cobra.Command{
		Use:   "ping",
		Short: "Check the service is alive",
		RunE: func(cmd *cobra.Command, args []string) error {
			syncClient()
			status, body, err := cl.do("GET", "/healthz")
			if err != nil {
				return err
			}
			if status/100 != 2 {
				return fmt.Errorf("ping failed: status=%d body=%s", status, string(body))
			}
			if cl.OutFormat == "text" {
				fmt.Println("ok")
				return nil
			}
			cl.print(status, body)
			return nil
		},
	}

	// status
	var principal string
	statusCmd := &cobra.Command{
		Use:     "status <provider>",
		Short:   "Show connection status for a principal",
		Args:    cobra.ExactArgs(1),
		PreRunE: requireKey,
		RunE: func(cmd *cobra.Command, args []string) error {
			if principal == "" {
				return fmt.Errorf("--principal is required")
			}
			path := fmt.Sprintf("/v1/integrations/%s/status?principal_id=%s",
				url.PathEscape(args[0]), url.QueryEscape(principal))
			status, body, err := cl.do("GET", path)
			if err != nil {
				return err
			}
			cl.print(status, body)
			if status/100 != 2 {
				os.Exit(1)
			}
			return nil
		},
	}
	statusCmd.Flags().StringVar(&principal, "principal", "", "principal ID")

	// disconnect
	var dcPrincipal string
	disconnectCmd := &cobra.Command{
		Use:     "disconnect <provider>",
		Short:   "Disconnect a principal's mailbox and revoke the grant",
		Args:    cobra.ExactArgs(1),
		PreRunE: requireKey,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dcPrincipal == "" {
				return fmt.Errorf("--principal is required")
			}
			path := fmt.Sprintf("/v1/integrations/%s/disconnect?principal_id=%s",
				url.PathEscape(args[0]), url.QueryEscape(dcPrincipal))
			status, body, err := cl.do("POST", path)
			if err != nil {
				return err
			}
			if status == http.StatusNoContent {
				fmt.Println("disconnected")
				return nil
			}
			cl.print(status, body)
			os.Exit(1)
			return nil
		},
	}
	disconnectCmd.Flags().StringVar(&dcPrincipal, "principal", "", "principal ID")

	// messages
	var msgPrincipal string
	var msgLimit int
	messagesCmd := &cobra.Command{
		Use:     "messages <provider>",
		Short:   "List recent messages from the connected mailbox",
		Args:    cobra.ExactArgs(1),
		PreRunE: requireKey,
		RunE: func(cmd *cobra.Command, args []string) error {
			if msgPrincipal == "" {
				return fmt.Errorf("--principal is required")
			}
			path := fmt.Sprintf("/v1/integrations/%s/messages?principal_id=%s&limit=%s",
				url.PathEscape(args[0]), url.QueryEscape(msgPrincipal), strconv.Itoa(msgLimit))
			status, body, err := cl.do("GET", path)
			if err != nil {
				return err
			}
			cl.print(status, body)
			if status/100 != 2 {
				os.Exit(1)
			}
			return nil
		},
	}
	messagesCmd.Flags().StringVar(&msgPrincipal, "principal", "", "principal ID")
	messagesCmd.Flags().IntVar(&msgLimit, "limit", 10, "max messages to list (1-50)")

	// connect-url
	var cuPrincipal string
	connectURLCmd := &cobra.Command{
		Use:   "connect-url <provider>",
		Short: "Print the consent URL for a principal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			syncClient()
			path := fmt.Sprintf("/v1/auth/%s/start?principal_id=%s&redirect=false",
				url.PathEscape(args[0]), url.QueryEscape(cuPrincipal))
			status, body, err := cl.do("GET", path)
			if err != nil {
				return err
			}
			if status/100 != 2 {
				cl.print(status, body)
				os.Exit(1)
			}
			var resp struct {
				AuthorizationURL string `json:"authorization_url"`
			}
			if err := json.Unmarshal(body, &resp); err == nil && resp.AuthorizationURL != "" {
				fmt.Println(resp.AuthorizationURL)
				return nil
			}
			cl.print(status, body)
			return nil
		},
	}
	connectURLCmd.Flags().StringVar(&cuPrincipal, "principal", "", "principal ID")

	root.AddCommand(pingCmd, statusCmd, disconnectCmd, messagesCmd, connectURLCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
