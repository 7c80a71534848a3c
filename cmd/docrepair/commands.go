package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"docvault/internal/docerr"
	"docvault/internal/model"
	"docvault/internal/reconcile"
	"docvault/internal/repository"
	"docvault/internal/service"
)

// opener returns the document service and a func releasing its clients.
type opener func(ctx context.Context) (service.DocumentService, func() error, error)

func newRootCmd(open opener) *cobra.Command {
	root := &cobra.Command{
		Use:   "docrepair",
		Short: "Reconcile document records with object storage",
		Long: `docrepair compares document records with the objects in storage,
applies reviewed repair plans and purges soft-deleted content.

Example:
  docrepair plan --entity-type vivienda > plan.json
  docrepair apply --plan plan.json --actor ops@example.com`,
		SilenceUsage: true,
	}
	root.AddCommand(newPlanCmd(open), newApplyCmd(open), newPurgeCmd(open))
	return root
}

func newPlanCmd(open opener) *cobra.Command {
	var scope repository.Scope
	var entityType string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Compute a repair plan without changing anything",
		Long: `Compute a repair plan for the given scope and print it as JSON.
The plan is printed even when it contains ambiguous keys; the command then exits non-zero.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scope.EntityType = model.EntityType(entityType)
			if entityType != "" && !scope.EntityType.Valid() {
				return fmt.Errorf("invalid --entity-type %q", entityType)
			}
			return withService(cmd, open, func(ctx context.Context, svc service.DocumentService) error {
				plan, err := svc.Reconcile(ctx, scope)
				if plan != nil {
					if encErr := writeJSON(cmd.OutOrStdout(), plan); encErr != nil {
						return encErr
					}
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&entityType, "entity-type", "", "vivienda, proyecto or cliente (default all)")
	cmd.Flags().StringVar(&scope.EntityID, "entity-id", "", "limit to one entity")
	cmd.Flags().StringVar(&scope.Slot, "slot", "", "limit to one document slot")
	return cmd
}

func newApplyCmd(open opener) *cobra.Command {
	var planPath, actor string
	var only []string

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply the actions of a reviewed plan",
		Long: `Apply the actions of a plan produced by "docrepair plan".
Each action re-checks its preconditions and reports stale when the state moved on.
Use --plan - to read the plan from stdin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				return errors.New("--actor is required")
			}
			plan, err := readPlan(cmd.InOrStdin(), planPath)
			if err != nil {
				return err
			}
			actions := selectActions(plan.Actions, only)
			if len(actions) == 0 {
				return errors.New("plan has no actions to apply")
			}
			return withService(cmd, open, func(ctx context.Context, svc service.DocumentService) error {
				results, err := svc.ApplyRepair(ctx, actions, actor)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), results)
			})
		},
	}
	cmd.Flags().StringVar(&planPath, "plan", "-", "plan JSON file")
	cmd.Flags().StringVar(&actor, "actor", "", "identity recorded in the audit trail")
	cmd.Flags().StringSliceVar(&only, "action", nil, "apply only these action ids")
	return cmd
}

func newPurgeCmd(open opener) *cobra.Command {
	var actor string

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove stored content of versions deleted longer than the retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, open, func(ctx context.Context, svc service.DocumentService) error {
				report, err := svc.PurgeDeleted(ctx, actor)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), report)
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "system:purge", "identity recorded in the audit trail")
	return cmd
}

func withService(cmd *cobra.Command, open opener, fn func(context.Context, service.DocumentService) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	svc, closeFn, err := open(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	err = fn(ctx, svc)
	if errors.Is(err, docerr.ErrConsistencyViolation) {
		return fmt.Errorf("plan needs review: %w", err)
	}
	return err
}

func readPlan(stdin io.Reader, path string) (*reconcile.Plan, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open plan: %w", err)
		}
		defer f.Close()
		r = f
	}
	var plan reconcile.Plan
	if err := json.NewDecoder(r).Decode(&plan); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	return &plan, nil
}

func selectActions(actions []reconcile.Action, only []string) []reconcile.Action {
	if len(only) == 0 {
		return actions
	}
	out := make([]reconcile.Action, 0, len(only))
	for _, a := range actions {
		if slices.Contains(only, a.ID) {
			out = append(out, a)
		}
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
