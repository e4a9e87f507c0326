package cli

import (
	"errors"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fastygo/journal/domain"
	"github.com/fastygo/journal/usecase/checksum"
	"github.com/fastygo/journal/usecase/identity"
	"github.com/fastygo/journal/usecase/reconcile"
)

// ErrHistoryInconsistent makes verify exit non-zero when a history is broken.
var ErrHistoryInconsistent = errors.New("journal history is inconsistent")

func refFlags(cmd *cobra.Command, kind *string, id *int64) {
	cmd.Flags().StringVar(kind, "kind", domain.KindWorkPackage, "journable kind")
	cmd.Flags().Int64Var(id, "id", 0, "journable id")
	_ = cmd.MarkFlagRequired("id")
}

// NewRecreateInitialCommand rebuilds version 1 from the journable's current state.
func NewRecreateInitialCommand(opts *RootOptions) *cobra.Command {
	var (
		kind   string
		id     int64
		author int64
	)
	cmd := &cobra.Command{
		Use:   "recreate-initial",
		Short: "Rebuild the initial journal from the current state",
		Long: `Rebuild version 1 of a journable's history from its current persisted state.

An existing version 1 keeps its id, author and timestamp; only its snapshot
and details are replaced. Later versions are left untouched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer e.Close()

			if author == 0 {
				author = opts.Tombstone
			}
			svc := reconcile.NewService(e.journals, e.tx, e.state, e.registry, e.logger, opts.Tombstone)
			entry, err := svc.RecreateFromState(cmd.Context(), domain.Ref{Kind: kind, ID: id}, author)
			if err != nil {
				return err
			}
			return emit(cmd.OutOrStdout(), opts.Format, entry, func(w io.Writer) {
				writef(w, "recreated %s version %d (author %d, %d changed keys)\n",
					entry.Ref, entry.Version, entry.AuthorID, len(entry.Details))
			})
		},
	}
	refFlags(cmd, &kind, &id)
	cmd.Flags().Int64Var(&author, "author", 0, "author when version 1 does not exist yet (default: tombstone actor)")
	return cmd
}

// NewVerifyCommand checks a history for gaps and self-consistency.
func NewVerifyCommand(opts *RootOptions) *cobra.Command {
	var (
		kind string
		id   int64
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that versions are gapless and details match snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer e.Close()

			svc := reconcile.NewService(e.journals, e.tx, e.state, e.registry, e.logger, opts.Tombstone)
			report, err := svc.Verify(cmd.Context(), domain.Ref{Kind: kind, ID: id})
			if err != nil {
				return err
			}
			if err := emit(cmd.OutOrStdout(), opts.Format, report, func(w io.Writer) {
				writef(w, "%s: %d versions\n", report.Journable, report.Versions)
				for _, v := range report.Gaps {
					writef(w, "  missing version %d\n", v)
				}
				for _, v := range report.Duplicates {
					writef(w, "  duplicate version %d\n", v)
				}
				for _, m := range report.Mismatches {
					writef(w, "  version %d details disagree on %s\n", m.Version, strings.Join(m.Keys, ", "))
				}
				if report.OK() {
					writef(w, "  ok\n")
				}
			}); err != nil {
				return err
			}
			if !report.OK() {
				return ErrHistoryInconsistent
			}
			return nil
		},
	}
	refFlags(cmd, &kind, &id)
	return cmd
}

// NewRewriteActorCommand reassigns a deleted actor's journals to the tombstone.
func NewRewriteActorCommand(opts *RootOptions) *cobra.Command {
	var actorID int64
	cmd := &cobra.Command{
		Use:   "rewrite-actor",
		Short: "Move authorship of a deleted actor to the tombstone actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer e.Close()

			rewriter := identity.NewRewriter(e.journals, e.tx, opts.Tombstone, e.logger)
			n, err := rewriter.OnActorDeleted(cmd.Context(), actorID)
			if err != nil {
				return err
			}
			result := map[string]int64{"actor_id": actorID, "tombstone_actor_id": opts.Tombstone, "rewritten": n}
			return emit(cmd.OutOrStdout(), opts.Format, result, func(w io.Writer) {
				writef(w, "rewrote %d journals of actor %d to %d\n", n, actorID, opts.Tombstone)
			})
		},
	}
	cmd.Flags().Int64Var(&actorID, "id", 0, "deleted actor id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

// NewChecksumCommand prints checksums for a batch of journables.
func NewChecksumCommand(opts *RootOptions) *cobra.Command {
	var (
		kind string
		ids  []int64
	)
	cmd := &cobra.Command{
		Use:   "checksum",
		Short: "Compute checksums for journables of one kind",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer e.Close()

			svc := checksum.NewService(e.checksums, e.journals, e.registry, e.logger)
			sums, err := svc.ChecksumFor(cmd.Context(), kind, ids)
			if err != nil {
				return err
			}
			out := make(map[string]string, len(sums))
			keys := make([]int64, 0, len(sums))
			for id, sum := range sums {
				out[strconv.FormatInt(id, 10)] = sum
				keys = append(keys, id)
			}
			sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
			return emit(cmd.OutOrStdout(), opts.Format, out, func(w io.Writer) {
				for _, id := range keys {
					writef(w, "%d\t%s\n", id, sums[id])
				}
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", domain.KindWorkPackage, "journable kind")
	cmd.Flags().Int64SliceVar(&ids, "ids", nil, "comma separated journable ids")
	_ = cmd.MarkFlagRequired("ids")
	return cmd
}
