package cli

import (
	"encoding/json"
	"io"

	"github.com/specialistvlad/deploygrid/internal/target"
	"github.com/spf13/cobra"
)

func newStateCommand(f *flags, out, errOut io.Writer) *cobra.Command {
	stateCmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect or reset execution records.",
	}

	getCmd := &cobra.Command{
		Use:   "get NETWORK:CONTRACT",
		Short: "Print the execution record of a target as JSON.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTarget(args[0])
			if err != nil {
				return err
			}
			a, err := newApp(cmd, f, nil, false, errOut)
			if err != nil {
				return err
			}
			rec, found, err := a.Record(cmd.Context(), id)
			if err != nil {
				return err
			}
			if !found {
				return &ExitError{Code: ExitRunFailed, Message: "no execution record for " + id.String()}
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		},
	}

	invalidateCmd := &cobra.Command{
		Use:   "invalidate NETWORK:CONTRACT...",
		Short: "Delete execution records so the targets and their dependents run again.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]target.Identity, 0, len(args))
			for _, arg := range args {
				id, err := parseTarget(arg)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			a, err := newApp(cmd, f, nil, false, errOut)
			if err != nil {
				return err
			}
			for _, id := range ids {
				if err := a.Invalidate(cmd.Context(), id); err != nil {
					return err
				}
			}
			return nil
		},
	}

	stateCmd.AddCommand(getCmd, invalidateCmd)
	return stateCmd
}

func parseTarget(s string) (target.Identity, error) {
	id, err := target.ParseIdentity(s)
	if err != nil {
		return target.Identity{}, fmtErr("invalid target %q: %v", s, err)
	}
	return id, nil
}
