package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/agentsearch/internal/apperr"
	"github.com/fyrsmithlabs/agentsearch/internal/index"
	"github.com/fyrsmithlabs/agentsearch/internal/model"
	"github.com/fyrsmithlabs/agentsearch/internal/query"
)

var (
	flagAgents    []string
	flagWorkspace string
	flagRole      string
	flagSince     string
	flagUntil     string
	flagLimit     int
	flagOffset    int
	flagRobot     bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search indexed conversations",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().StringSliceVar(&flagAgents, "agent", nil, "restrict to these agent slugs")
	searchCmd.Flags().StringVar(&flagWorkspace, "workspace", "", "restrict to conversations under this workspace path prefix")
	searchCmd.Flags().StringVar(&flagRole, "role", "", "restrict to this message role")
	searchCmd.Flags().StringVar(&flagSince, "since", "", "only messages created at or after this ISO-8601 timestamp")
	searchCmd.Flags().StringVar(&flagUntil, "until", "", "only messages created at or before this ISO-8601 timestamp")
	searchCmd.Flags().IntVar(&flagLimit, "limit", 20, "maximum number of hits to return")
	searchCmd.Flags().IntVar(&flagOffset, "offset", 0, "number of hits to skip")
	searchCmd.Flags().BoolVar(&flagRobot, "robot", false, "emit machine-readable JSON on stdout")
}

// robotHit mirrors spec section 6's `--robot` output hit shape exactly.
type robotHit struct {
	ConversationID string  `json:"conversation_id"`
	Idx            int     `json:"idx"`
	Agent          string  `json:"agent"`
	Workspace      string  `json:"workspace,omitempty"`
	Role           string  `json:"role"`
	Score          float64 `json:"score"`
	Snippet        string  `json:"snippet"`
	CreatedAt      *int64  `json:"created_at,omitempty"`
	Title          string  `json:"title,omitempty"`
}

type robotOutput struct {
	Hits   []robotHit `json:"hits"`
	Total  int        `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	_, st, ix, closeStack, err := openStack(cfg)
	if err != nil {
		return err
	}
	defer closeStack()

	filters, err := buildFilters()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	svc := query.New(ix, st)
	results, err := svc.Search(ctx, args[0], filters, flagLimit, flagOffset)
	if err != nil {
		return err
	}

	if flagRobot {
		return printRobotOutput(cmd, results)
	}
	printHumanResults(cmd, results)
	return nil
}

func buildFilters() (index.Filters, error) {
	f := index.Filters{
		Agents:          flagAgents,
		WorkspacePrefix: flagWorkspace,
		Role:            flagRole,
	}
	if flagSince != "" {
		t, err := time.Parse(time.RFC3339, flagSince)
		if err != nil {
			return f, apperr.New(apperr.KindQuerySyntax, "cli.bad_since", fmt.Sprintf("--since is not a valid ISO-8601 timestamp: %v", err))
		}
		ms := t.UnixMilli()
		f.CreatedAfter = &ms
	}
	if flagUntil != "" {
		t, err := time.Parse(time.RFC3339, flagUntil)
		if err != nil {
			return f, apperr.New(apperr.KindQuerySyntax, "cli.bad_until", fmt.Sprintf("--until is not a valid ISO-8601 timestamp: %v", err))
		}
		ms := t.UnixMilli()
		f.CreatedBefore = &ms
	}
	return f, nil
}

func printRobotOutput(cmd *cobra.Command, results []query.Result) error {
	out := robotOutput{Limit: flagLimit, Offset: flagOffset}
	for _, r := range results {
		for _, h := range r.Hits {
			out.Hits = append(out.Hits, robotHit{
				ConversationID: h.ConversationID,
				Idx:            h.Idx,
				Agent:          h.AgentSlug,
				Workspace:      h.Workspace,
				Role:           string(h.Role),
				Score:          h.Score,
				Snippet:        h.Snippet,
				CreatedAt:      h.CreatedAt,
				Title:          h.Title,
			})
		}
	}
	out.Total = len(out.Hits)
	enc := json.NewEncoder(cmd.OutOrStdout())
	return enc.Encode(out)
}

func printHumanResults(cmd *cobra.Command, results []query.Result) {
	w := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintln(w, "no matches")
		return
	}
	for _, r := range results {
		title := "(untitled)"
		agent := ""
		if r.Conversation != nil {
			if r.Conversation.Title != "" {
				title = r.Conversation.Title
			}
			agent = r.Conversation.AgentSlug
		}
		fmt.Fprintf(w, "\n%s  [%s]\n", title, agent)
		for _, h := range r.Hits {
			fmt.Fprintf(w, "  #%d %s  %.2f  %s\n", h.Idx, roleLabel(h.Role), h.Score, h.Snippet)
		}
	}
}

func roleLabel(r model.Role) string {
	if r == "" {
		return "?"
	}
	return string(r)
}
