package cli

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/goliatone/go-smsintake/adapters/gocommand"
	"github.com/goliatone/go-smsintake/cmd/smsintake/internal/app"
	"github.com/goliatone/go-smsintake/codec"
	smscommand "github.com/goliatone/go-smsintake/command"
	"github.com/goliatone/go-smsintake/core"
	smsquery "github.com/goliatone/go-smsintake/query"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

func newMigrateCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return flags.withApp(cmd, func(context.Context, *app.App) error {
				printf(cmd, "migrations applied\n")
				return nil
			})
		},
	}
}

func newSeedCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "seed FILE",
		Short: "Load metadata and tracker entities from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entities, err := app.LoadSeed(args[0])
			if err != nil {
				return err
			}
			return flags.withApp(cmd, func(ctx context.Context, instance *app.App) error {
				if err := instance.Factory.BaseEntityStore().Seed(ctx, entities...); err != nil {
					return err
				}
				counts := lo.CountValuesBy(entities, func(entity core.Entity) core.EntityKind {
					return entity.EntityKind()
				})
				kinds := lo.Keys(counts)
				sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
				for _, kind := range kinds {
					printf(cmd, "%s\t%d\n", kind, counts[kind])
				}
				return nil
			})
		},
	}
}

func newEncodeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "encode FILE",
		Short: "Encode a YAML submission into the compressed SMS text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			submission, err := app.LoadSubmission(args[0])
			if err != nil {
				return err
			}
			text, err := codec.New().EncodeString(submission)
			if err != nil {
				return err
			}
			printf(cmd, "%s\n", text)
			return nil
		},
	}
}

func newReceiveCommand(flags *rootFlags) *cobra.Command {
	var (
		id          string
		gatewayID   string
		originator  string
		payload     string
		payloadFile string
	)
	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Dispatch one inbound SMS and print the response text",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body := []byte(payload)
			if payloadFile != "" {
				data, err := os.ReadFile(payloadFile)
				if err != nil {
					return fmt.Errorf("read payload: %w", err)
				}
				body = data
			}
			msg := core.InboundMessage{
				ID:         strings.TrimSpace(id),
				GatewayID:  strings.TrimSpace(gatewayID),
				Originator: strings.TrimSpace(originator),
				Payload:    body,
				ReceivedAt: time.Now().UTC(),
			}
			return flags.withApp(cmd, func(ctx context.Context, _ *app.App) error {
				outcome, _, err := gocommand.DispatchWithResult[smscommand.ReceiveMessage, core.ResponseOutcome](
					ctx, smscommand.ReceiveMessage{Message: msg},
				)
				if err != nil {
					return err
				}
				printf(cmd, "%s\n", outcome.Render())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Gateway message id")
	cmd.Flags().StringVar(&gatewayID, "gateway", "", "Gateway id")
	cmd.Flags().StringVar(&originator, "originator", "", "Sender phone number")
	cmd.Flags().StringVar(&payload, "payload", "", "Compressed submission text")
	cmd.Flags().StringVar(&payloadFile, "payload-file", "", "Read the compressed submission from a file")
	_ = cmd.MarkFlagRequired("originator")
	return cmd
}

func newOutcomeCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "outcome KEY",
		Short: "Print the stored response for a parsed message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withApp(cmd, func(ctx context.Context, _ *app.App) error {
				outcome, err := gocommand.Query[smsquery.GetOutcomeMessage, core.ResponseOutcome](
					ctx, smsquery.GetOutcomeMessage{MessageKey: args[0]},
				)
				if err != nil {
					return err
				}
				printf(cmd, "%s\n", outcome.Render())
				return nil
			})
		},
	}
}

func newStatusCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status KEY",
		Short: "Report whether a message has been parsed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withApp(cmd, func(ctx context.Context, _ *app.App) error {
				status, err := gocommand.Query[smsquery.MessageStatusMessage, smsquery.MessageStatus](
					ctx, smsquery.MessageStatusMessage{MessageKey: args[0]},
				)
				if err != nil {
					return err
				}
				if !status.Parsed || status.Outcome == nil {
					printf(cmd, "%s\tunparsed\n", status.MessageKey)
					return nil
				}
				printf(cmd, "%s\tparsed\t%s\n", status.MessageKey, status.Outcome.Render())
				return nil
			})
		},
	}
}

func newUnparsedCommand(flags *rootFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "unparsed",
		Short: "List messages the ledger holds without an outcome, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return flags.withApp(cmd, func(ctx context.Context, _ *app.App) error {
				messages, err := gocommand.Query[smsquery.ListUnparsedMessage, []core.InboundMessage](
					ctx, smsquery.ListUnparsedMessage{Limit: limit},
				)
				if err != nil {
					return err
				}
				for _, msg := range messages {
					printf(cmd, "%s\t%s\t%s\n", msg.IdentityKey(), msg.Originator, msg.ReceivedAt.Format(time.RFC3339))
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum messages to list, 0 for all")
	return cmd
}

func newReplayCommand(flags *rootFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-dispatch unparsed messages, e.g. after a crash mid-processing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return flags.withApp(cmd, func(ctx context.Context, _ *app.App) error {
				result, _, err := gocommand.DispatchWithResult[smscommand.ReplayUnparsedMessage, smscommand.ReplayResult](
					ctx, smscommand.ReplayUnparsedMessage{Limit: limit},
				)
				if err != nil {
					return err
				}
				keys := lo.Keys(result.Outcomes)
				sort.Strings(keys)
				for _, key := range keys {
					printf(cmd, "%s\t%s\n", key, result.Outcomes[key].Render())
				}
				failed := lo.Keys(result.Failed)
				sort.Strings(failed)
				for _, key := range failed {
					printf(cmd, "%s\tfailed: %s\n", key, result.Failed[key])
				}
				printf(cmd, "replayed %d of %d\n", len(result.Outcomes), result.Attempted)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum messages to replay, 0 for all")
	return cmd
}

func newPruneCommand(flags *rootFlags) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete parsed ledger entries past the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return flags.withApp(cmd, func(ctx context.Context, instance *app.App) error {
				window := olderThan
				if window <= 0 {
					window = instance.Config.Retention()
				}
				removed, _, err := gocommand.DispatchWithResult[smscommand.PruneLedgerMessage, int](
					ctx, smscommand.PruneLedgerMessage{ParsedBefore: time.Now().UTC().Add(-window)},
				)
				if err != nil {
					return err
				}
				printf(cmd, "pruned %d\n", removed)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Retention window; defaults to ledger.retention_hours")
	return cmd
}
