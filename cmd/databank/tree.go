package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/neurocohort/databank/pkg/archive"
)

func treeCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "tree ARCHIVE",
		Short: "Print the folder tree of an archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printTree(cmd.OutOrStdout(), args[0])
		},
	}
}

func printTree(w io.Writer, path string) error {
	container, err := archive.Open(path)
	if err != nil {
		return err
	}
	defer container.Close()
	tree, err := archive.BuildTree(container.Entries())
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	fmt.Fprintln(w, container.Name())
	tree.Print(w)
	return nil
}
