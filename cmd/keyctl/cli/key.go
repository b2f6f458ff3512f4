package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"keyguard/backend/internal/domain"
	"keyguard/backend/internal/service"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Issue, list, inspect, check and revoke API keys.",
	}

	cmd.AddCommand(newKeyIssueCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyGetCmd())
	cmd.AddCommand(newKeyCheckCmd())
	cmd.AddCommand(newKeyRevokeCmd())

	return cmd
}

// ---------- key issue ----------

type issueFlags struct {
	name          string
	expiresAt     string
	expiresIn     time.Duration
	maxRequests   int
	windowSeconds int
	jsonOutput    bool
}

func newKeyIssueCmd() *cobra.Command {
	var f issueFlags

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a new API key",
		Long:  "Generate a new API key. The key value is printed once; store it somewhere safe.",
		Example: `  keyctl key issue --name billing
  keyctl key issue --name ci --expires-in 720h --max-requests 100 --window-seconds 60`,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := f.input(cmd)
			if err != nil {
				return err
			}
			return withEnv(func(e *env) error {
				return runKeyIssue(cmd, e, in, f.jsonOutput)
			})
		},
	}

	cmd.Flags().StringVar(&f.name, "name", "", "unique name of the key (required)")
	cmd.Flags().StringVar(&f.expiresAt, "expires-at", "", "absolute expiry time (RFC 3339)")
	cmd.Flags().DurationVar(&f.expiresIn, "expires-in", 0, "relative expiry, e.g. 24h")
	cmd.Flags().IntVar(&f.maxRequests, "max-requests", 0, "requests allowed per window")
	cmd.Flags().IntVar(&f.windowSeconds, "window-seconds", 0, "rate limit window in seconds")
	cmd.Flags().BoolVar(&f.jsonOutput, "json", false, "output as JSON")
	_ = cmd.MarkFlagRequired("name")
	cmd.MarkFlagsMutuallyExclusive("expires-at", "expires-in")
	cmd.MarkFlagsRequiredTogether("max-requests", "window-seconds")

	return cmd
}

// input 将命令行参数转换为签发参数
func (f *issueFlags) input(cmd *cobra.Command) (service.IssueAPIKeyInput, error) {
	in := service.IssueAPIKeyInput{Name: f.name}

	if f.expiresAt != "" {
		t, err := time.Parse(time.RFC3339, f.expiresAt)
		if err != nil {
			return in, fmt.Errorf("invalid --expires-at: %w", err)
		}
		in.ExpiresAt = &t
	}
	if cmd.Flags().Changed("expires-in") {
		d := f.expiresIn
		in.ExpiresIn = &d
	}
	if cmd.Flags().Changed("max-requests") {
		in.RateLimit = &domain.RateLimit{
			MaxRequests:   f.maxRequests,
			WindowSeconds: f.windowSeconds,
		}
	}
	return in, nil
}

func runKeyIssue(cmd *cobra.Command, e *env, in service.IssueAPIKeyInput, jsonOutput bool) error {
	key, err := e.service.IssueAPIKey(cmd.Context(), in)
	if err != nil {
		return fmt.Errorf("issue api key: %w", err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, key)
	}

	fmt.Fprintln(out, "API key issued:")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Key:        %s\n", key.Key)
	fmt.Fprintf(out, "  Name:       %s\n", key.Name)
	fmt.Fprintf(out, "  Rate limit: %d per %ds\n", key.RateLimit.MaxRequests, key.RateLimit.WindowSeconds)
	if key.ExpiresAt != nil {
		fmt.Fprintf(out, "  Expires:    %s\n", key.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(func(e *env) error {
				return runKeyList(cmd, e, jsonOutput)
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}

func runKeyList(cmd *cobra.Command, e *env, jsonOutput bool) error {
	keys, err := e.service.ListAPIKeys(cmd.Context())
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	type keyRow struct {
		Key       string `json:"key"`
		Name      string `json:"name"`
		Status    string `json:"status"`
		CreatedAt string `json:"createdAt"`
		ExpiresAt string `json:"expiresAt,omitempty"`
	}

	rows := make([]keyRow, len(keys))
	for i, k := range keys {
		rows[i] = keyRow{
			Key:       domain.MaskKey(k.Key),
			Name:      k.Name,
			Status:    string(k.Status),
			CreatedAt: k.CreatedAt.Format(time.RFC3339),
		}
		if k.ExpiresAt != nil {
			rows[i].ExpiresAt = k.ExpiresAt.Format(time.RFC3339)
		}
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, rows)
	}

	if len(rows) == 0 {
		fmt.Fprintln(out, "No API keys issued. Use 'keyctl key issue' to create one.")
		return nil
	}

	fmt.Fprintf(out, "%-12s %-24s %-8s %-26s %s\n", "KEY", "NAME", "STATUS", "CREATED", "EXPIRES")
	for _, r := range rows {
		expires := r.ExpiresAt
		if expires == "" {
			expires = "never"
		}
		fmt.Fprintf(out, "%-12s %-24s %-8s %-26s %s\n", r.Key, r.Name, r.Status, r.CreatedAt, expires)
	}
	return nil
}

// ---------- key get ----------

func newKeyGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <name>",
		Short: "Show an API key by name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(func(e *env) error {
				key, err := e.service.GetAPIKeyByName(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("get api key: %w", err)
				}
				return printJSON(cmd.OutOrStdout(), key)
			})
		},
	}
}

// ---------- key check ----------

func newKeyCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <key>",
		Short: "Run the authorization decision for a key",
		Long:  "Evaluate a key exactly as the server would, including cache repair and lazy expiry.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(func(e *env) error {
				return runKeyCheck(cmd, e, args[0])
			})
		},
	}
}

func runKeyCheck(cmd *cobra.Command, e *env, key string) error {
	record, err := e.validator.Authorize(cmd.Context(), key)
	out := cmd.OutOrStdout()
	if err != nil {
		fmt.Fprintf(out, "denied: %s\n", domain.ReasonFor(err))
		return fmt.Errorf("key denied: %w", err)
	}

	fmt.Fprintf(out, "allowed: %s\n", record.Name)
	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <key>",
		Short: "Revoke an API key",
		Long:  "Mark the key revoked and drop its cache entry. Revoking twice is harmless.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(func(e *env) error {
				res, err := e.service.RevokeAPIKey(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("revoke api key: %w", err)
				}
				if res.AlreadyRevoked {
					fmt.Fprintf(cmd.OutOrStdout(), "API key %s was already revoked\n", domain.MaskKey(args[0]))
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Revoked API key %s\n", domain.MaskKey(args[0]))
				return nil
			})
		},
	}
}

// withEnv 打开依赖、执行 fn 并释放
func withEnv(fn func(e *env) error) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.close()
	return fn(e)
}

