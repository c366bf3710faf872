package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/asaidimu/go-anansi-schema/core/schema"
	"github.com/spf13/cobra"
)

func newSchemaCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect and change class schemas",
	}
	cmd.AddCommand(
		newSchemaListCommand(opts),
		newSchemaGetCommand(opts),
		newSchemaApplyCommand(opts),
		newSchemaDeleteCommand(opts),
		newSchemaVerifyCommand(opts),
	)
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newSchemaListCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every class",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			classes, err := rt.persistence.AllClasses(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"results": classes})
		},
	}
}

func newSchemaGetCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <className>",
		Short: "Print one class with its indexes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			s, err := rt.persistence.GetClass(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), s)
		},
	}
}

// newSchemaApplyCommand creates the class when it is missing and updates it
// otherwise.
func newSchemaApplyCommand(opts *globalOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "apply <className>",
		Short: "Create or update a class from a JSON request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			req := &schema.ClassRequest{}
			if err := json.NewDecoder(in).Decode(req); err != nil && err != io.EOF {
				return fmt.Errorf("failed to decode class request: %w", err)
			}

			rt, err := openRuntime(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			className := args[0]
			exists, err := rt.persistence.HasClass(cmd.Context(), className)
			if err != nil {
				return err
			}
			var s *schema.ClassSchema
			if exists {
				s, err = rt.persistence.UpdateClass(cmd.Context(), className, req)
			} else {
				s, err = rt.persistence.CreateClass(cmd.Context(), className, req)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), s)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON request to apply, - or empty reads stdin")
	return cmd
}

func newSchemaDeleteCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <className>",
		Short: "Drop an empty class",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.persistence.DeleteClass(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

func newSchemaVerifyCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <className>",
		Short: "Compare declared indexes with the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			drift, err := rt.persistence.VerifyIndexes(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), drift); err != nil {
				return err
			}
			if !drift.Clean() {
				return fmt.Errorf("indexes of %s differ from the schema", args[0])
			}
			return nil
		},
	}
}
