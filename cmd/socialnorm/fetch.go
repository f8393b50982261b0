package main

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/blackmichael/socialnorm/internal/bluesky"
	"github.com/blackmichael/socialnorm/internal/jsonmap"
)

// pageSize is the largest page the AppView listing endpoints return.
const pageSize = 100

var (
	fetchOutput     string
	fetchFormat     string
	fetchReferenced bool
	fetchLimit      int
	fetchDepth      int
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch and normalize Bluesky payloads from the AppView",
}

var fetchPostsCmd = &cobra.Command{
	Use:   "posts <url-or-uri>...",
	Short: "Fetch posts by bsky.app URL or at:// URI",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		uris := make([]string, 0, len(args))
		for _, arg := range args {
			uri, err := bluesky.PostURIFromURL(arg)
			if err != nil {
				return err
			}
			uris = append(uris, uri)
		}

		client, err := newAppViewClient(cmd.Context())
		if err != nil {
			return err
		}
		views, err := client.GetPosts(cmd.Context(), uris)
		if err != nil {
			return eris.Wrap(err, "fetch posts")
		}
		return writeFetched(cmd, postKind, objectsToPayloads(views))
	},
}

var fetchThreadCmd = &cobra.Command{
	Use:   "thread <url-or-uri>",
	Short: "Fetch every post of the thread around a post",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		uri, err := bluesky.PostURIFromURL(args[0])
		if err != nil {
			return err
		}

		client, err := newAppViewClient(cmd.Context())
		if err != nil {
			return err
		}
		thread, err := client.GetPostThread(cmd.Context(), uri, fetchDepth)
		if err != nil {
			return eris.Wrap(err, "fetch thread")
		}
		return writeFetched(cmd, postKind, objectsToPayloads(flattenThread(thread)))
	},
}

var fetchFeedCmd = &cobra.Command{
	Use:   "feed <actor>",
	Short: "Fetch the posts and reposts of an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAppViewClient(cmd.Context())
		if err != nil {
			return err
		}
		items, err := paginate(cmd.Context(), fetchLimit, func(ctx context.Context, cursor string, limit int) (bluesky.Page, error) {
			return client.GetAuthorFeed(ctx, args[0], cursor, limit)
		})
		if err != nil {
			return eris.Wrapf(err, "fetch feed of %s", args[0])
		}
		return writeFetched(cmd, postKind, objectsToPayloads(items))
	},
}

var fetchProfileCmd = &cobra.Command{
	Use:   "profile <actor>...",
	Short: "Fetch detailed profiles by handle or DID",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAppViewClient(cmd.Context())
		if err != nil {
			return err
		}
		profiles := make([]map[string]any, 0, len(args))
		for _, actor := range args {
			profile, err := client.GetProfile(cmd.Context(), actor)
			if err != nil {
				return eris.Wrapf(err, "fetch profile %s", actor)
			}
			profiles = append(profiles, profile)
		}
		return writeFetched(cmd, profileKind, objectsToPayloads(profiles))
	},
}

var fetchFollowersCmd = &cobra.Command{
	Use:   "followers <actor>",
	Short: "Fetch the followers of an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAppViewClient(cmd.Context())
		if err != nil {
			return err
		}
		items, err := paginate(cmd.Context(), fetchLimit, func(ctx context.Context, cursor string, limit int) (bluesky.Page, error) {
			return client.GetFollowers(ctx, args[0], cursor, limit)
		})
		if err != nil {
			return eris.Wrapf(err, "fetch followers of %s", args[0])
		}
		return writeFetched(cmd, partialProfileKind, objectsToPayloads(items))
	},
}

func init() {
	pf := fetchCmd.PersistentFlags()
	pf.StringVarP(&fetchOutput, "output", "o", "-", "output file (- for stdout)")
	pf.StringVarP(&fetchFormat, "format", "f", formatCSV, "output format: csv or jsonl")
	pf.BoolVar(&fetchReferenced, "referenced", false, "also emit quoted and thread posts")

	fetchFeedCmd.Flags().IntVar(&fetchLimit, "limit", 100, "max number of feed items")
	fetchFollowersCmd.Flags().IntVar(&fetchLimit, "limit", 100, "max number of followers")
	fetchThreadCmd.Flags().IntVar(&fetchDepth, "depth", 6, "reply depth to fetch")

	fetchCmd.AddCommand(fetchPostsCmd, fetchThreadCmd, fetchFeedCmd, fetchProfileCmd, fetchFollowersCmd)
	rootCmd.AddCommand(fetchCmd)
}

// newAppViewClient builds a rate limited client. With credentials
// configured it logs in and talks to the PDS, which proxies AppView calls.
func newAppViewClient(ctx context.Context) (*bluesky.Client, error) {
	av := cfg.AppView
	login := av.Identifier != "" && av.AppPassword != ""

	host := av.BaseURL
	if login {
		host = av.PDS
	}

	client := bluesky.NewClient(host,
		bluesky.WithRate(av.RatePerSecond, av.Burst),
		bluesky.WithClientLogger(zap.L()),
	)
	if login {
		if err := client.Login(ctx, av.Identifier, av.AppPassword); err != nil {
			return nil, err
		}
		zap.L().Info("logged in", zap.String("did", client.DID()))
	}
	return client, nil
}

type pageFunc func(ctx context.Context, cursor string, limit int) (bluesky.Page, error)

// paginate follows cursors until limit items are read or the listing ends.
func paginate(ctx context.Context, limit int, fetch pageFunc) ([]map[string]any, error) {
	var items []map[string]any
	cursor := ""
	for len(items) < limit {
		page, err := fetch(ctx, cursor, min(pageSize, limit-len(items)))
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
		if page.Cursor == "" || len(page.Items) == 0 {
			break
		}
		cursor = page.Cursor
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// flattenThread returns the post views of a thread: ancestors from the
// root down, the anchor post, then replies depth first. Blocked and missing
// posts are skipped.
func flattenThread(node map[string]any) []map[string]any {
	var ancestors []map[string]any
	for parent, ok := jsonmap.Obj(node, "parent"); ok; parent, ok = jsonmap.Obj(parent, "parent") {
		if post, ok := jsonmap.Obj(parent, "post"); ok {
			ancestors = append(ancestors, post)
		}
	}

	out := make([]map[string]any, 0, len(ancestors)+1)
	for i := len(ancestors) - 1; i >= 0; i-- {
		out = append(out, ancestors[i])
	}
	return appendReplies(out, node)
}

func appendReplies(out []map[string]any, node map[string]any) []map[string]any {
	if post, ok := jsonmap.Obj(node, "post"); ok {
		out = append(out, post)
	}
	for _, reply := range jsonmap.Objects(node, "replies") {
		out = appendReplies(out, reply)
	}
	return out
}

func objectsToPayloads(objects []map[string]any) []any {
	payloads := make([]any, len(objects))
	for i, o := range objects {
		payloads[i] = o
	}
	return payloads
}

func writeFetched(cmd *cobra.Command, kind entityKind, payloads []any) error {
	opts, err := normalizeOptions("")
	if err != nil {
		return err
	}
	records, err := normalizeBatch(cmd.Context(), kind, payloads, batchOptions{
		referenced:  fetchReferenced,
		concurrency: cfg.Batch.Concurrency,
		normalize:   opts,
	})
	if err != nil {
		return err
	}
	return writeRecords(cmd, fetchOutput, fetchFormat, kind.fields, records)
}
